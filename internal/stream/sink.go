package stream

import (
	"io"
	"sync"

	"github.com/rs/zerolog/log"
)

// Sink is the best-effort secondary destination of a tee. It moves from
// active to discarded exactly once: on end-of-data, on close, or on the
// first failed write. A discarded sink ignores further writes.
type Sink struct {
	mu sync.Mutex
	w  io.WriteCloser
}

func NewSink(w io.WriteCloser) *Sink {
	return &Sink{w: w}
}

// Active reports whether the sink still accepts bytes.
func (s *Sink) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w != nil
}

func (s *Sink) current() io.WriteCloser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w
}

func (s *Sink) discard() io.WriteCloser {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.w
	s.w = nil
	return w
}

// Write copies all of p into the sink, resuming after short writes. Any
// failure drops the sink; it is never reported to the caller.
func (s *Sink) Write(p []byte) {
	w := s.current()
	if w == nil {
		return
	}

	for len(p) > 0 {
		n, err := w.Write(p)
		if n > 0 {
			p = p[n:]
		}
		if err == nil && n == 0 {
			err = io.ErrShortWrite
		}
		if err != nil {
			log.Warn().Err(err).Int("unwritten", len(p)).Msg("tee sink write failed, dropping sink")
			if cerr := s.Close(); cerr != nil {
				log.Debug().Err(cerr).Msg("closing dropped tee sink")
			}
			return
		}
	}
}

// Close closes and discards the sink. Closing a discarded sink is a no-op.
func (s *Sink) Close() error {
	w := s.discard()
	if w == nil {
		return nil
	}
	return w.Close()
}
