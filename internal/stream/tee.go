package stream

import (
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
)

// Tee forwards every operation of a source stream to its caller while
// copying the bytes it produces into a Sink. The caller observes exactly
// what the source produces; sink failures only ever drop the sink.
//
// Optional operations are available only when the source supports them,
// see Capabilities.
type Tee struct {
	src   Stream
	caps  Capabilities
	sink  *Sink
	relay *relay

	closeOnce sync.Once
	closeErr  error
}

// NewTee wraps src, mirroring its bytes into sink.
func NewTee(src Stream, sink io.WriteCloser) *Tee {
	t := &Tee{
		src:  src,
		caps: Probe(src),
		sink: NewSink(sink),
	}
	t.relay = newRelay(t, src, t.caps)
	return t
}

// Capabilities returns the source's capabilities, which the tee exposes
// unchanged.
func (t *Tee) Capabilities() Capabilities {
	return t.caps
}

// SinkActive reports whether bytes are still being mirrored.
func (t *Tee) SinkActive() bool {
	return t.sink.Active()
}

func (t *Tee) Read(p []byte) (int, error) {
	n, err := t.src.Read(p)
	if n > 0 {
		t.sink.Write(p[:n])
	}
	if err == io.EOF {
		t.closeSink("end of data")
	}
	return n, err
}

// ReadSegments is not supported; consumers fall back to Read.
func (t *Tee) ReadSegments(fn SegmentFunc, count int) (int, error) {
	return 0, ErrNotImplemented
}

func (t *Tee) Available() (int64, error) {
	n, err := t.src.Available()
	if errors.Is(err, ErrClosed) {
		t.closeSink("source closed")
	}
	return n, err
}

func (t *Tee) IsNonBlocking() bool {
	return t.src.IsNonBlocking()
}

// Close closes the source and the sink once. A sink close failure is
// returned only when the source closed cleanly.
func (t *Tee) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.finish(t.src.Close())
	})
	return t.closeErr
}

// CloseWithStatus closes an async source with status, then the sink.
func (t *Tee) CloseWithStatus(status error) error {
	if t.relay.async == nil {
		return ErrCapabilityAbsent
	}
	t.closeOnce.Do(func() {
		t.closeErr = t.finish(t.relay.async.CloseWithStatus(status))
	})
	return t.closeErr
}

func (t *Tee) finish(err error) error {
	serr := t.sink.Close()
	if serr == nil {
		return err
	}
	if err == nil {
		return serr
	}
	log.Warn().Err(serr).Msg("tee sink close failed")
	return err
}

func (t *Tee) closeSink(reason string) {
	if err := t.sink.Close(); err != nil {
		log.Warn().Err(err).Str("reason", reason).Msg("tee sink close failed")
	}
}

func (t *Tee) AsyncWait(cb ReadyCallback, flags WaitFlags, requested int, target Target) error {
	return t.relay.asyncWait(cb, flags, requested, target)
}

func (t *Tee) Length() (int64, error) {
	if !t.caps.Has(CapLength) {
		return -1, ErrCapabilityAbsent
	}
	return t.src.(Sized).Length()
}

func (t *Tee) AsyncLengthWait(cb LengthCallback, target Target) error {
	return t.relay.asyncLengthWait(cb, target)
}
