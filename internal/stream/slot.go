package stream

import "sync"

// callbackSlot holds at most one outstanding callback. The mutex only
// guards the slot itself; callbacks are always invoked after release.
type callbackSlot[T any] struct {
	mu  sync.Mutex
	cb  T
	set bool
}

// arm stores cb, or clears the slot when present is false. It reports
// whether the registration must be forwarded to the source.
func (s *callbackSlot[T]) arm(cb T, present bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.set && present {
		return false, ErrAlreadyWaiting
	}
	if !s.set && !present {
		return false, nil
	}
	s.cb, s.set = cb, present
	return true, nil
}

func (s *callbackSlot[T]) pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

// take reads and clears the slot.
func (s *callbackSlot[T]) take() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	cb, ok := s.cb, s.set
	s.cb, s.set = zero, false
	return cb, ok
}

// relay registers itself with a source stream and hands readiness
// notifications on to the callbacks registered with the wrapping stream,
// presenting the wrapper as the ready stream.
type relay struct {
	owner  Stream
	async  AsyncStream
	sized  AsyncLengthStream
	ready  callbackSlot[ReadyCallback]
	length callbackSlot[LengthCallback]
}

func newRelay(owner, src Stream, caps Capabilities) *relay {
	r := &relay{owner: owner}
	if caps.Has(CapAsyncWait) {
		r.async = src.(AsyncStream)
	}
	if caps.Has(CapAsyncLength) {
		r.sized = src.(AsyncLengthStream)
	}
	return r
}

func (r *relay) asyncWait(cb ReadyCallback, flags WaitFlags, requested int, target Target) error {
	if r.async == nil {
		return ErrCapabilityAbsent
	}
	forward, err := r.ready.arm(cb, cb != nil)
	if err != nil || !forward {
		return err
	}

	var self ReadyCallback
	if cb != nil {
		self = readyRelay{r}
	}
	if err := r.async.AsyncWait(self, flags, requested, target); err != nil {
		r.ready.take()
		return err
	}
	return nil
}

func (r *relay) asyncLengthWait(cb LengthCallback, target Target) error {
	if r.sized == nil {
		return ErrCapabilityAbsent
	}
	forward, err := r.length.arm(cb, cb != nil)
	if err != nil || !forward {
		return err
	}

	var self LengthCallback
	if cb != nil {
		self = lengthRelay{r}
	}
	if err := r.sized.AsyncLengthWait(self, target); err != nil {
		r.length.take()
		return err
	}
	return nil
}

type readyRelay struct{ r *relay }

func (x readyRelay) OnInputStreamReady(Stream) error {
	cb, ok := x.r.ready.take()
	// Cleared while the source was waiting.
	if !ok || cb == nil {
		return nil
	}
	return cb.OnInputStreamReady(x.r.owner)
}

type lengthRelay struct{ r *relay }

func (x lengthRelay) OnInputStreamLengthReady(_ Stream, length int64) error {
	cb, ok := x.r.length.take()
	if !ok || cb == nil {
		return nil
	}
	return cb.OnInputStreamLengthReady(x.r.owner, length)
}
