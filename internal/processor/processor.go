// Package processor reassembles captured recordings from JetStream and
// hands them to storage.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/namikmesic/replaytap/internal/jetstream"
	"github.com/namikmesic/replaytap/internal/storage"
)

const (
	ConsumerName = "replay-processor"
	fetchBatch   = 64
	fetchWait    = time.Second

	// DefaultAckWait bounds how long a chunk may wait for its done
	// message before JetStream redelivers it.
	DefaultAckWait = 5 * time.Minute
	// DefaultMaxAckPending is the number of chunks that may be held
	// unacknowledged across all in-flight recordings.
	DefaultMaxAckPending = 1 << 16

	sweepInterval = time.Minute

	abandonedError = "done message never arrived"
)

var ErrMalformedSubject = errors.New("malformed recording subject")

type assembly struct {
	started time.Time
	bytes   int64
	chunks  [][]byte
	// msgs are acknowledged once the recording is handed to storage.
	msgs []*nats.Msg
	// seqs maps a stream sequence to its index in chunks and msgs so
	// redeliveries replace instead of append.
	seqs map[uint64]int
}

// Processor collects the chunks of every in-flight recording until its
// done message arrives. Chunks stay unacknowledged until then, so a
// restart redelivers them.
type Processor struct {
	writer storage.Enqueuer
	newJob func(*storage.Recording) storage.WriteJob

	// StaleAfter drops recordings whose done message has not arrived
	// within this long. They are stored as incomplete.
	StaleAfter    time.Duration
	AckWait       time.Duration
	MaxAckPending int

	mu      sync.Mutex
	pending map[string]*assembly
}

func New(writer storage.Enqueuer) *Processor {
	return &Processor{
		writer:        writer,
		newJob:        storage.InsertRecordingJob,
		StaleAfter:    jetstream.MaxAge,
		AckWait:       DefaultAckWait,
		MaxAckPending: DefaultMaxAckPending,
		pending:       make(map[string]*assembly),
	}
}

// Handle applies one message without acknowledging anything.
func (p *Processor) Handle(msg *nats.Msg) error {
	_, err := p.handle(msg)
	return err
}

// handle applies msg and returns the messages that are now settled and
// may be acknowledged.
func (p *Processor) handle(msg *nats.Msg) ([]*nats.Msg, error) {
	kind, channelID, done, ok := jetstream.ParseSubject(msg.Subject)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMalformedSubject, msg.Subject)
	}
	key := jetstream.ChunkSubject(kind, channelID)

	if !done {
		p.addChunk(key, msg)
		return nil, nil
	}

	var d jetstream.Done
	if err := json.Unmarshal(msg.Data, &d); err != nil {
		return nil, fmt.Errorf("decode done message for %s: %w", key, err)
	}
	id, err := strconv.ParseUint(channelID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedSubject, msg.Subject)
	}

	p.mu.Lock()
	a := p.pending[key]
	delete(p.pending, key)
	p.mu.Unlock()
	if a == nil {
		a = &assembly{started: time.Now()}
	}

	ts := a.started
	if d.TS > 0 {
		ts = time.Unix(0, d.TS)
	}
	p.store(key, &storage.Recording{
		ID:        uuid.New(),
		ChannelID: id,
		Kind:      kind,
		Timestamp: ts,
		Bytes:     a.bytes,
		Complete:  d.Error == "" && d.Bytes == a.bytes && d.Chunks == len(a.chunks),
		Error:     d.Error,
		Chunks:    a.chunks,
	})
	return append(a.msgs, msg), nil
}

func (p *Processor) addChunk(key string, msg *nats.Msg) {
	seq, hasSeq := streamSeq(msg)

	p.mu.Lock()
	defer p.mu.Unlock()

	a, found := p.pending[key]
	if !found {
		a = &assembly{started: time.Now(), seqs: make(map[uint64]int)}
		p.pending[key] = a
	}
	if hasSeq {
		if i, dup := a.seqs[seq]; dup {
			a.msgs[i] = msg
			return
		}
		a.seqs[seq] = len(a.chunks)
	}
	a.chunks = append(a.chunks, append([]byte(nil), msg.Data...))
	a.msgs = append(a.msgs, msg)
	a.bytes += int64(len(msg.Data))
}

func streamSeq(msg *nats.Msg) (uint64, bool) {
	if msg.Reply == "" {
		return 0, false
	}
	meta, err := msg.Metadata()
	if err != nil {
		return 0, false
	}
	return meta.Sequence.Stream, true
}

// Sweep stores every recording that has waited longer than StaleAfter
// for its done message as incomplete. It returns how many were dropped.
func (p *Processor) Sweep(now time.Time) int {
	return len(p.sweep(now))
}

func (p *Processor) sweep(now time.Time) map[string][]*nats.Msg {
	stale := make(map[string]*assembly)
	p.mu.Lock()
	for key, a := range p.pending {
		if now.Sub(a.started) > p.StaleAfter {
			stale[key] = a
			delete(p.pending, key)
		}
	}
	p.mu.Unlock()

	settled := make(map[string][]*nats.Msg, len(stale))
	for key, a := range stale {
		kind, channelID, _, _ := jetstream.ParseSubject(key)
		id, _ := strconv.ParseUint(channelID, 10, 64)
		p.store(key, &storage.Recording{
			ID:        uuid.New(),
			ChannelID: id,
			Kind:      kind,
			Timestamp: a.started,
			Bytes:     a.bytes,
			Error:     abandonedError,
			Chunks:    a.chunks,
		})
		settled[key] = a.msgs
	}
	return settled
}

func (p *Processor) store(key string, rec *storage.Recording) {
	if !p.writer.Enqueue(p.newJob(rec)) {
		log.Warn().Str("subject", key).Msg("recording dropped by writer")
	}
	log.Debug().
		Str("subject", key).
		Int64("bytes", rec.Bytes).
		Int("chunks", len(rec.Chunks)).
		Bool("complete", rec.Complete).
		Str("error", rec.Error).
		Msg("recording reassembled")
}

// Pending is the number of recordings still waiting for their done
// message.
func (p *Processor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// WaitIdle waits up to timeout for every pending recording to finish.
func (p *Processor) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for p.Pending() > 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(20 * time.Millisecond)
	}
	return true
}

// StartConsumer pulls recording messages until ctx is cancelled.
func (p *Processor) StartConsumer(ctx context.Context, js nats.JetStreamContext) error {
	sub, err := js.PullSubscribe(jetstream.SubjectAll, ConsumerName,
		nats.AckWait(p.AckWait),
		nats.MaxAckPending(p.MaxAckPending),
	)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", jetstream.SubjectAll, err)
	}
	log.Info().Str("consumer", ConsumerName).Msg("recording consumer started")

	lastSweep := time.Now()
	for {
		if ctx.Err() != nil {
			return nil
		}
		if now := time.Now(); now.Sub(lastSweep) >= sweepInterval {
			lastSweep = now
			for key, msgs := range p.sweep(now) {
				log.Warn().Str("subject", key).Msg("recording abandoned without done message")
				ack(msgs)
			}
		}

		msgs, err := sub.Fetch(fetchBatch, nats.MaxWait(fetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return nil
			}
			log.Warn().Err(err).Msg("fetch recordings failed")
			continue
		}
		for _, msg := range msgs {
			settled, err := p.handle(msg)
			if err != nil {
				log.Warn().Err(err).Str("subject", msg.Subject).Msg("discarding recording message")
				_ = msg.Term()
				continue
			}
			ack(settled)
		}
	}
}

func ack(msgs []*nats.Msg) {
	for _, m := range msgs {
		if err := m.Ack(); err != nil {
			log.Warn().Err(err).Str("subject", m.Subject).Msg("ack failed")
		}
	}
}
