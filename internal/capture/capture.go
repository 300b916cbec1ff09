// Package capture drains announced recordings into JetStream.
package capture

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/namikmesic/replaytap/internal/jetstream"
	"github.com/namikmesic/replaytap/internal/observer"
	"github.com/namikmesic/replaytap/internal/recordreplay"
	"github.com/namikmesic/replaytap/internal/stream"
)

const DefaultChunkSize = 32 * 1024

var errStopped = errors.New("capture stopped")

// Publisher is the part of nats.JetStreamContext capture needs.
type Publisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Subscriber registers observers, see observer.Service.
type Subscriber interface {
	Subscribe(topic string, o observer.Observer) (unsubscribe func())
}

var kinds = map[string]string{
	recordreplay.TopicRequestStart:  jetstream.KindRequest,
	recordreplay.TopicResponseStart: jetstream.KindResponse,
}

// Capture reads every announced recording in its own goroutine and
// publishes it chunk by chunk.
type Capture struct {
	pub       Publisher
	chunkSize int

	mu     sync.Mutex
	active map[stream.Stream]struct{}
	quit   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

func New(pub Publisher, chunkSize int) *Capture {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Capture{
		pub:       pub,
		chunkSize: chunkSize,
		active:    make(map[stream.Stream]struct{}),
		quit:      make(chan struct{}),
	}
}

// Register subscribes c to the request and response recording topics.
func (c *Capture) Register(s Subscriber) (unsubscribe func()) {
	var unsubs []func()
	for topic := range kinds {
		unsubs = append(unsubs, s.Subscribe(topic, c))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Observe takes ownership of payload.
func (c *Capture) Observe(topic string, payload stream.Stream, channelID string) {
	kind, ok := kinds[topic]
	if !ok || payload == nil {
		log.Warn().Str("topic", topic).Msg("unexpected recording topic")
		if payload != nil {
			_ = payload.Close()
		}
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = payload.Close()
		return
	}
	c.active[payload] = struct{}{}
	c.wg.Add(1)
	c.mu.Unlock()

	go c.drain(kind, channelID, payload)
}

func (c *Capture) drain(kind, channelID string, payload stream.Stream) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		delete(c.active, payload)
		c.mu.Unlock()
		_ = payload.Close()
	}()

	subject := jetstream.ChunkSubject(kind, channelID)
	buf := make([]byte, c.chunkSize)
	var done jetstream.Done
	var pubErr error

	for {
		n, err := payload.Read(buf)
		if n > 0 && pubErr == nil {
			msgID := fmt.Sprintf("%s-%d", subject, done.Chunks)
			if _, pubErr = c.pub.Publish(subject, buf[:n], nats.MsgId(msgID)); pubErr != nil {
				log.Warn().Err(pubErr).Str("subject", subject).Msg("publish chunk failed, dropping recording")
				done.Error = pubErr.Error()
			} else {
				done.Bytes += int64(n)
				done.Chunks++
			}
		}
		if errors.Is(err, stream.ErrWouldBlock) {
			if err = c.waitReady(payload); err == nil {
				continue
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			if done.Error == "" {
				done.Error = err.Error()
			}
			break
		}
	}

	done.TS = time.Now().UnixNano()
	data, _ := json.Marshal(done)
	if _, err := c.pub.Publish(jetstream.DoneSubject(kind, channelID), data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("publish done failed")
		return
	}
	log.Debug().
		Str("subject", subject).
		Int64("bytes", done.Bytes).
		Int("chunks", done.Chunks).
		Str("error", done.Error).
		Msg("recording captured")
}

// waitReady blocks until a non-blocking payload has data or is closed.
func (c *Capture) waitReady(payload stream.Stream) error {
	async, ok := payload.(stream.AsyncStream)
	if !ok || !stream.Probe(payload).Has(stream.CapAsyncWait) {
		return stream.ErrWouldBlock
	}
	ready := make(chan struct{}, 1)
	err := async.AsyncWait(stream.ReadyFunc(func(stream.Stream) error {
		ready <- struct{}{}
		return nil
	}), 0, 0, nil)
	if err != nil {
		return err
	}
	select {
	case <-ready:
		return nil
	case <-c.quit:
		_ = async.AsyncWait(nil, 0, 0, nil)
		return errStopped
	}
}

// Shutdown closes the recordings still being drained and waits for
// their done messages.
func (c *Capture) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.wg.Wait()
		return
	}
	c.closed = true
	close(c.quit)
	pending := make([]stream.Stream, 0, len(c.active))
	for s := range c.active {
		pending = append(pending, s)
	}
	c.mu.Unlock()

	for _, s := range pending {
		_ = s.Close()
	}
	c.wg.Wait()
}
