package stream_test

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namikmesic/replaytap/internal/pipe"
	"github.com/namikmesic/replaytap/internal/stream"
)

func TestBufferedReadsThrough(t *testing.T) {
	body := strings.Repeat("0123456789", 20000)
	sink := newMemSink()
	b := stream.NewBuffered(stream.NewTee(stream.FromReader(strings.NewReader(body), int64(len(body))), sink), 0)

	assert.Equal(t, stream.CapLength, b.Capabilities())
	n, err := b.Length()
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), n)

	got, err := io.ReadAll(b)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
	assert.Equal(t, body, sink.String())

	require.NoError(t, b.Close())
	assert.Equal(t, 1, sink.closeCount())
}

func TestBufferedAvailable(t *testing.T) {
	b := stream.NewBuffered(newSource("abc", "defg"), 16)
	n, err := b.Available()
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	buf := make([]byte, 1)
	_, err = b.Read(buf)
	require.NoError(t, err)

	// "bc" is buffered, "defg" still sits in the source.
	n, err = b.Available()
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
}

func TestBufferedAsyncWait(t *testing.T) {
	pr, pw := pipe.New(true, true, 0)
	b := stream.NewBuffered(pr, 4)
	assert.Equal(t, stream.CapAsyncWait, b.Capabilities())

	var notified []stream.Stream
	cb := stream.ReadyFunc(func(s stream.Stream) error {
		notified = append(notified, s)
		return nil
	})

	require.NoError(t, b.AsyncWait(cb, 0, 0, nil))
	assert.ErrorIs(t, b.AsyncWait(cb, 0, 0, nil), stream.ErrAlreadyWaiting)

	_, err := pw.Write([]byte("abcdef"))
	require.NoError(t, err)
	require.Len(t, notified, 1)
	assert.Same(t, b, notified[0])

	buf := make([]byte, 2)
	_, err = b.Read(buf)
	require.NoError(t, err)

	// Bytes already buffered satisfy the wait immediately.
	require.NoError(t, b.AsyncWait(cb, 0, 0, nil))
	assert.Len(t, notified, 2)

	_, err = b.Length()
	assert.ErrorIs(t, err, stream.ErrCapabilityAbsent)
	assert.ErrorIs(t, b.AsyncLengthWait(nil, nil), stream.ErrCapabilityAbsent)
}

func TestBufferedWithoutAsyncSource(t *testing.T) {
	b := stream.NewBuffered(newSource("x"), 4)
	err := b.AsyncWait(stream.ReadyFunc(func(stream.Stream) error { return nil }), 0, 0, nil)
	assert.ErrorIs(t, err, stream.ErrCapabilityAbsent)
	assert.ErrorIs(t, b.CloseWithStatus(errBoom), stream.ErrCapabilityAbsent)
}
