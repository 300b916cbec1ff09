package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// WriteJob represents a unit of work to execute against the database.
type WriteJob interface {
	Execute(ctx context.Context, pool *pgxpool.Pool) error
}

// WriteJobFunc adapts a function into a WriteJob.
type WriteJobFunc func(ctx context.Context, pool *pgxpool.Pool) error

func (f WriteJobFunc) Execute(ctx context.Context, pool *pgxpool.Pool) error {
	return f(ctx, pool)
}

// Enqueuer accepts write jobs without blocking the caller.
type Enqueuer interface {
	Enqueue(job WriteJob) bool
}

// BatchWriter collects write jobs and flushes them in batches, either when
// a batch fills up or when the flush interval elapses.
type BatchWriter struct {
	pool      *pgxpool.Pool
	jobs      chan WriteJob
	batchSize int
	interval  time.Duration
	dropped   atomic.Int64

	mu       sync.RWMutex
	shutdown bool
	wg       sync.WaitGroup
}

func NewBatchWriter(pool *pgxpool.Pool, bufferSize, batchSize, flushMs int) *BatchWriter {
	if batchSize <= 0 {
		batchSize = 1
	}
	if flushMs <= 0 {
		flushMs = 100
	}
	w := &BatchWriter{
		pool:      pool,
		jobs:      make(chan WriteJob, bufferSize),
		batchSize: batchSize,
		interval:  time.Duration(flushMs) * time.Millisecond,
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Enqueue queues job and reports whether it was accepted. Jobs are dropped
// when the queue is full or the writer is shut down.
func (w *BatchWriter) Enqueue(job WriteJob) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.shutdown {
		w.dropped.Add(1)
		return false
	}
	select {
	case w.jobs <- job:
		return true
	default:
		w.dropped.Add(1)
		log.Warn().Msg("write queue full, dropping job")
		return false
	}
}

// Dropped is the number of jobs Enqueue refused.
func (w *BatchWriter) Dropped() int64 {
	return w.dropped.Load()
}

func (w *BatchWriter) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	batch := make([]WriteJob, 0, w.batchSize)

	for {
		select {
		case job, ok := <-w.jobs:
			if !ok {
				w.flush(batch)
				return
			}
			batch = append(batch, job)
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (w *BatchWriter) flush(batch []WriteJob) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	failed := 0
	for _, job := range batch {
		if err := job.Execute(ctx, w.pool); err != nil {
			failed++
			log.Error().Err(err).Msg("write job failed")
		}
	}
	log.Debug().Int("jobs", len(batch)).Int("failed", failed).Msg("write batch flushed")
}

// Shutdown flushes the queued jobs and stops the writer. It is safe to
// call more than once.
func (w *BatchWriter) Shutdown() {
	w.mu.Lock()
	if !w.shutdown {
		w.shutdown = true
		close(w.jobs)
	}
	w.mu.Unlock()
	w.wg.Wait()
}
