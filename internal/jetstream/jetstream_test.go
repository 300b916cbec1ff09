package jetstream

import (
	"testing"
	"time"

	nats "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "replay.request.12", ChunkSubject(KindRequest, "12"))
	assert.Equal(t, "replay.response.12.done", DoneSubject(KindResponse, "12"))

	for _, tc := range []struct {
		subject string
		kind    string
		id      string
		done    bool
		ok      bool
	}{
		{"replay.request.12", KindRequest, "12", false, true},
		{"replay.response.7.done", KindResponse, "7", true, true},
		{"replay.upload.7", "", "", false, false},
		{"replay.request", "", "", false, false},
		{"replay.request.1.2", "", "", false, false},
		{"other.request.1", "", "", false, false},
	} {
		t.Run(tc.subject, func(t *testing.T) {
			kind, id, done, ok := ParseSubject(tc.subject)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.kind, kind)
			assert.Equal(t, tc.id, id)
			assert.Equal(t, tc.done, done)
		})
	}
}

func TestEmbeddedServer(t *testing.T) {
	srv, err := NewServer(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)

	nc, err := srv.Connect()
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	js, err := nc.JetStream()
	require.NoError(t, err)
	require.NoError(t, EnsureStream(js))
	require.NoError(t, EnsureStream(js))

	_, err = js.Publish(ChunkSubject(KindRequest, "1"), []byte("chunk"))
	require.NoError(t, err)

	sub, err := js.PullSubscribe(SubjectAll, "test")
	require.NoError(t, err)
	msgs, err := sub.Fetch(1, nats.MaxWait(5*time.Second))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "replay.request.1", msgs[0].Subject)
	assert.Equal(t, "chunk", string(msgs[0].Data))
	require.NoError(t, msgs[0].Ack())
}
