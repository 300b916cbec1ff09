package stream

// lengthStream annotates a stream whose length is known out of band.
type lengthStream struct {
	Stream
	length int64
	caps   Capabilities
	relay  *relay
}

// WithLength returns a stream reporting length from Length, with the
// remaining capabilities of s. Any asynchronous length support of s is
// hidden since the length is already known.
func WithLength(s Stream, length int64) Stream {
	ls := &lengthStream{
		Stream: s,
		length: length,
		caps:   Probe(s)&^CapAsyncLength | CapLength,
	}
	ls.relay = newRelay(ls, s, ls.caps)
	return ls
}

func (s *lengthStream) Capabilities() Capabilities {
	return s.caps
}

func (s *lengthStream) Length() (int64, error) {
	return s.length, nil
}

func (s *lengthStream) AsyncWait(cb ReadyCallback, flags WaitFlags, requested int, target Target) error {
	return s.relay.asyncWait(cb, flags, requested, target)
}

func (s *lengthStream) CloseWithStatus(status error) error {
	if s.relay.async == nil {
		return ErrCapabilityAbsent
	}
	return s.relay.async.CloseWithStatus(status)
}
