package capture

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	nats "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namikmesic/replaytap/internal/jetstream"
	"github.com/namikmesic/replaytap/internal/observer"
	"github.com/namikmesic/replaytap/internal/pipe"
	"github.com/namikmesic/replaytap/internal/recordreplay"
	"github.com/namikmesic/replaytap/internal/stream"
)

type published struct {
	subject string
	data    string
}

type fakePublisher struct {
	mu    sync.Mutex
	msgs  []published
	fail  error
	dones chan jetstream.Done
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{dones: make(chan jetstream.Done, 8)}
}

func (p *fakePublisher) Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if strings.HasSuffix(subj, ".done") {
		var d jetstream.Done
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		p.msgs = append(p.msgs, published{subj, string(data)})
		p.dones <- d
		return &nats.PubAck{}, nil
	}
	if p.fail != nil {
		return nil, p.fail
	}
	p.msgs = append(p.msgs, published{subj, string(data)})
	return &nats.PubAck{}, nil
}

func (p *fakePublisher) chunks(subject string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, m := range p.msgs {
		if m.subject == subject {
			out = append(out, m.data)
		}
	}
	return out
}

func (p *fakePublisher) waitDone(t *testing.T) jetstream.Done {
	t.Helper()
	select {
	case d := <-p.dones:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("no done message published")
		return jetstream.Done{}
	}
}

func closedPipe(t *testing.T, nonBlocking bool, data string) stream.Stream {
	t.Helper()
	r, w := pipe.New(nonBlocking, true, 0)
	_, err := w.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return r
}

func TestCaptureChunksRecording(t *testing.T) {
	pub := newFakePublisher()
	c := New(pub, 10)
	defer c.Shutdown()

	c.Observe(recordreplay.TopicResponseStart, closedPipe(t, false, strings.Repeat("x", 25)), "4")

	done := pub.waitDone(t)
	assert.Equal(t, int64(25), done.Bytes)
	assert.Equal(t, 3, done.Chunks)
	assert.Empty(t, done.Error)
	assert.NotZero(t, done.TS)
	assert.Equal(t, []string{"xxxxxxxxxx", "xxxxxxxxxx", "xxxxx"}, pub.chunks("replay.response.4"))
	assert.Len(t, pub.chunks("replay.response.4.done"), 1)
}

func TestCaptureWaitsOnNonBlockingPayload(t *testing.T) {
	pub := newFakePublisher()
	c := New(pub, 0)
	defer c.Shutdown()

	r, w := pipe.New(true, true, 0)
	c.Observe(recordreplay.TopicRequestStart, r, "8")

	_, err := w.Write([]byte("first "))
	require.NoError(t, err)
	_, err = w.Write([]byte("second"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	done := pub.waitDone(t)
	assert.Equal(t, int64(12), done.Bytes)
	assert.Empty(t, done.Error)
	assert.Equal(t, "first second", strings.Join(pub.chunks("replay.request.8"), ""))
}

func TestCapturePublishFailureStillDrains(t *testing.T) {
	pub := newFakePublisher()
	pub.fail = errors.New("no responders")
	c := New(pub, 4)
	defer c.Shutdown()

	c.Observe(recordreplay.TopicRequestStart, closedPipe(t, false, "abcdefgh"), "1")

	done := pub.waitDone(t)
	assert.Zero(t, done.Bytes)
	assert.Equal(t, "no responders", done.Error)
	assert.Empty(t, pub.chunks("replay.request.1"))
}

func TestCaptureRecordsFailedTransfer(t *testing.T) {
	pub := newFakePublisher()
	c := New(pub, 0)
	defer c.Shutdown()

	r, w := pipe.New(false, true, 0)
	_, err := w.Write([]byte("part"))
	require.NoError(t, err)
	require.NoError(t, w.CloseWithError(io.ErrUnexpectedEOF))
	c.Observe(recordreplay.TopicResponseStart, r, "2")

	done := pub.waitDone(t)
	assert.Equal(t, int64(4), done.Bytes)
	assert.Equal(t, io.ErrUnexpectedEOF.Error(), done.Error)
}

func TestCaptureUnknownTopicClosesPayload(t *testing.T) {
	c := New(newFakePublisher(), 0)
	defer c.Shutdown()

	r, _ := pipe.New(false, true, 0)
	c.Observe("something-else", r, "1")

	_, err := r.Read(make([]byte, 1))
	assert.ErrorIs(t, err, stream.ErrClosed)
}

func TestCaptureShutdownClosesPending(t *testing.T) {
	pub := newFakePublisher()
	c := New(pub, 0)

	r, w := pipe.New(false, true, 0)
	c.Observe(recordreplay.TopicRequestStart, r, "3")
	_, err := w.Write([]byte("abc"))
	require.NoError(t, err)

	c.Shutdown()
	done := pub.waitDone(t)
	assert.NotEmpty(t, done.Error)

	late, _ := pipe.New(false, true, 0)
	c.Observe(recordreplay.TopicRequestStart, late, "4")
	_, err = late.Read(make([]byte, 1))
	assert.ErrorIs(t, err, stream.ErrClosed)
	c.Shutdown()
}

func TestCaptureRecordsProxiedExchange(t *testing.T) {
	pub := newFakePublisher()
	c := New(pub, 0)
	defer c.Shutdown()

	svc := observer.NewService()
	unsubscribe := c.Register(svc)
	defer unsubscribe()

	rec := recordreplay.New(recordreplay.Options{Enabled: true, Announcer: svc})
	body := rec.WrapRequestBody(exchange(11), stream.FromReader(strings.NewReader("request body"), 12), -1)
	_, err := io.ReadAll(body)
	require.NoError(t, err)

	done := pub.waitDone(t)
	assert.Equal(t, int64(12), done.Bytes)
	assert.Equal(t, []string{"request body"}, pub.chunks("replay.request.11"))
}

type exchange uint64

func (e exchange) ChannelID() uint64 { return uint64(e) }
