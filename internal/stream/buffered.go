package stream

import (
	"bufio"
)

// DefaultBufferSize is the read-ahead used in front of recorded uploads.
const DefaultBufferSize = 64 << 10

// Buffered is a fixed-size read-ahead buffer over a Stream. It keeps the
// capabilities of its source.
type Buffered struct {
	src   Stream
	caps  Capabilities
	br    *bufio.Reader
	relay *relay
}

func NewBuffered(src Stream, size int) *Buffered {
	if size <= 0 {
		size = DefaultBufferSize
	}
	b := &Buffered{
		src:  src,
		caps: Probe(src),
		br:   bufio.NewReaderSize(src, size),
	}
	b.relay = newRelay(b, src, b.caps)
	return b
}

func (b *Buffered) Capabilities() Capabilities {
	return b.caps
}

// Unwrap returns the buffered source.
func (b *Buffered) Unwrap() Stream {
	return b.src
}

func (b *Buffered) Read(p []byte) (int, error) {
	return b.br.Read(p)
}

func (b *Buffered) Available() (int64, error) {
	buffered := int64(b.br.Buffered())
	n, err := b.src.Available()
	if err != nil {
		if buffered > 0 {
			return buffered, nil
		}
		return 0, err
	}
	return buffered + n, nil
}

func (b *Buffered) IsNonBlocking() bool {
	return b.src.IsNonBlocking()
}

func (b *Buffered) Close() error {
	return b.src.Close()
}

// AsyncWait fires immediately when buffered bytes are pending, otherwise
// it waits on the source.
func (b *Buffered) AsyncWait(cb ReadyCallback, flags WaitFlags, requested int, target Target) error {
	if b.relay.async == nil {
		return ErrCapabilityAbsent
	}
	if cb != nil && flags&WaitClosureOnly == 0 && b.br.Buffered() > 0 {
		if b.relay.ready.pending() {
			return ErrAlreadyWaiting
		}
		notify := func() { _ = cb.OnInputStreamReady(b) }
		if target != nil {
			target.Dispatch(notify)
		} else {
			notify()
		}
		return nil
	}
	return b.relay.asyncWait(cb, flags, requested, target)
}

func (b *Buffered) CloseWithStatus(status error) error {
	if b.relay.async == nil {
		return ErrCapabilityAbsent
	}
	return b.relay.async.CloseWithStatus(status)
}

func (b *Buffered) Length() (int64, error) {
	if !b.caps.Has(CapLength) {
		return -1, ErrCapabilityAbsent
	}
	return b.src.(Sized).Length()
}

func (b *Buffered) AsyncLengthWait(cb LengthCallback, target Target) error {
	return b.relay.asyncLengthWait(cb, target)
}
