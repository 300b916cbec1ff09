package stream_test

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/namikmesic/replaytap/internal/stream"
)

var (
	errBoom     = errors.New("boom")
	errSinkGone = errors.New("sink gone")
)

// scriptedSource yields its chunks one Read at a time, then err or io.EOF.
type scriptedSource struct {
	mu       sync.Mutex
	chunks   [][]byte
	err      error
	closed   int
	closeErr error
}

func newSource(chunks ...string) *scriptedSource {
	s := &scriptedSource{}
	for _, c := range chunks {
		s.chunks = append(s.chunks, []byte(c))
	}
	return s
}

func (s *scriptedSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed > 0 {
		return 0, stream.ErrClosed
	}
	if len(s.chunks) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		return 0, io.EOF
	}
	n := copy(p, s.chunks[0])
	s.chunks[0] = s.chunks[0][n:]
	if len(s.chunks[0]) == 0 {
		s.chunks = s.chunks[1:]
	}
	return n, nil
}

func (s *scriptedSource) Available() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed > 0 || len(s.chunks) == 0 {
		return 0, stream.ErrClosed
	}
	var n int64
	for _, c := range s.chunks {
		n += int64(len(c))
	}
	return n, nil
}

func (s *scriptedSource) IsNonBlocking() bool { return false }

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return s.closeErr
}

func (s *scriptedSource) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// asyncSource adds readiness and length notification to scriptedSource.
type asyncSource struct {
	*scriptedSource

	mu        sync.Mutex
	cb        stream.ReadyCallback
	lastCB    stream.ReadyCallback
	lengthCB  stream.LengthCallback
	waits     int
	status    error
	lengthVal int64
}

func newAsyncSource(chunks ...string) *asyncSource {
	return &asyncSource{scriptedSource: newSource(chunks...), lengthVal: -1}
}

func (s *asyncSource) IsNonBlocking() bool { return true }

func (s *asyncSource) AsyncWait(cb stream.ReadyCallback, flags stream.WaitFlags, requested int, target stream.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits++
	s.cb = cb
	if cb != nil {
		s.lastCB = cb
	}
	return nil
}

func (s *asyncSource) CloseWithStatus(status error) error {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	return s.Close()
}

func (s *asyncSource) Length() (int64, error) {
	return s.lengthVal, nil
}

func (s *asyncSource) AsyncLengthWait(cb stream.LengthCallback, target stream.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lengthCB = cb
	return nil
}

func (s *asyncSource) fire() error {
	s.mu.Lock()
	cb := s.cb
	s.cb = nil
	s.mu.Unlock()
	if cb == nil {
		return nil
	}
	return cb.OnInputStreamReady(s)
}

func (s *asyncSource) fireLength(n int64) error {
	s.mu.Lock()
	cb := s.lengthCB
	s.lengthCB = nil
	s.mu.Unlock()
	if cb == nil {
		return nil
	}
	return cb.OnInputStreamLengthReady(s, n)
}

func (s *asyncSource) waitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waits
}

// memSink accepts at most chunk bytes per Write and at most limit bytes
// overall; a negative limit never fails.
type memSink struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	chunk    int
	limit    int
	writes   int
	closed   int
	closeErr error
}

func newMemSink() *memSink {
	return &memSink{limit: -1}
}

func (s *memSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writes++
	if s.closed > 0 {
		return 0, errSinkGone
	}
	if s.chunk > 0 && len(p) > s.chunk {
		p = p[:s.chunk]
	}
	if s.limit >= 0 {
		room := s.limit - s.buf.Len()
		if room <= 0 {
			return 0, errSinkGone
		}
		if len(p) > room {
			p = p[:room]
		}
	}
	return s.buf.Write(p)
}

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return s.closeErr
}

func (s *memSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func (s *memSink) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *memSink) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
