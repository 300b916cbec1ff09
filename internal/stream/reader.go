package stream

import (
	"io"
	"sync"
)

type lener interface {
	Len() int
}

// readerStream adapts an io.Reader into a Stream. Readers that report
// their remaining bytes with Len, such as bytes.Reader, behave as
// non-blocking in-memory streams.
type readerStream struct {
	r      io.Reader
	length int64

	mu     sync.Mutex
	closed bool
	eof    bool
}

// FromReader adapts r. A non-negative length is exposed through Length;
// a negative one leaves the stream without a length capability.
func FromReader(r io.Reader, length int64) Stream {
	s := &readerStream{r: r, length: length}
	if length >= 0 {
		return &sizedReaderStream{s}
	}
	return s
}

func (s *readerStream) Capabilities() Capabilities {
	return 0
}

func (s *readerStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}

	n, err := s.r.Read(p)
	if err == io.EOF {
		s.mu.Lock()
		s.eof = true
		s.mu.Unlock()
	}
	return n, err
}

func (s *readerStream) Available() (int64, error) {
	s.mu.Lock()
	done := s.closed || s.eof
	s.mu.Unlock()
	if done {
		return 0, ErrClosed
	}
	if l, ok := s.r.(lener); ok {
		return int64(l.Len()), nil
	}
	return 0, nil
}

func (s *readerStream) IsNonBlocking() bool {
	_, ok := s.r.(lener)
	return ok
}

func (s *readerStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type sizedReaderStream struct {
	*readerStream
}

func (s *sizedReaderStream) Capabilities() Capabilities {
	return CapLength
}

func (s *sizedReaderStream) Length() (int64, error) {
	return s.length, nil
}
