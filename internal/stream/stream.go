package stream

import (
	"errors"
	"io"
	"strings"
)

var (
	ErrClosed           = errors.New("stream closed")
	ErrWouldBlock       = errors.New("stream would block")
	ErrCapabilityAbsent = errors.New("stream capability not supported")
	ErrAlreadyWaiting   = errors.New("callback already registered")
	ErrNotImplemented   = errors.New("not implemented")
)

// Stream is the synchronous surface every body stream provides.
// Read returns io.EOF at end-of-data. Available returns ErrClosed once
// the stream is closed or drained.
type Stream interface {
	io.ReadCloser
	Available() (int64, error)
	IsNonBlocking() bool
}

// WaitFlags modify an AsyncWait registration.
type WaitFlags uint32

// WaitClosureOnly fires the callback only when the stream is closed,
// not when data arrives.
const WaitClosureOnly WaitFlags = 1

// Target runs a callback on an execution context of the caller's
// choosing. A nil Target means the callback runs on the goroutine that
// observed readiness.
type Target interface {
	Dispatch(fn func())
}

// ReadyCallback is notified once when a stream becomes readable or closed.
type ReadyCallback interface {
	OnInputStreamReady(s Stream) error
}

// ReadyFunc adapts a function into a ReadyCallback.
type ReadyFunc func(s Stream) error

func (f ReadyFunc) OnInputStreamReady(s Stream) error {
	return f(s)
}

// LengthCallback is notified once when the length of a stream is known.
type LengthCallback interface {
	OnInputStreamLengthReady(s Stream, length int64) error
}

// LengthFunc adapts a function into a LengthCallback.
type LengthFunc func(s Stream, length int64) error

func (f LengthFunc) OnInputStreamLengthReady(s Stream, length int64) error {
	return f(s, length)
}

// AsyncStream is a Stream that can notify a callback when it becomes
// readable. At most one callback may be outstanding; passing a nil
// callback clears the registration.
type AsyncStream interface {
	Stream
	AsyncWait(cb ReadyCallback, flags WaitFlags, requested int, target Target) error
	CloseWithStatus(status error) error
}

// Sized is a Stream whose total length may be queried synchronously.
// A negative length means it is not known.
type Sized interface {
	Stream
	Length() (int64, error)
}

// AsyncLengthStream is a Stream whose length becomes known later.
type AsyncLengthStream interface {
	Stream
	AsyncLengthWait(cb LengthCallback, target Target) error
}

// SegmentFunc receives segments of a stream's internal buffer.
type SegmentFunc func(segment []byte) (int, error)

// Capabilities describes which optional operations a stream supports.
type Capabilities uint8

const (
	CapAsyncWait Capabilities = 1 << iota
	CapLength
	CapAsyncLength
)

func (c Capabilities) Has(o Capabilities) bool {
	return c&o == o
}

func (c Capabilities) String() string {
	var names []string
	if c.Has(CapAsyncWait) {
		names = append(names, "async-wait")
	}
	if c.Has(CapLength) {
		names = append(names, "length")
	}
	if c.Has(CapAsyncLength) {
		names = append(names, "async-length")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Capable is implemented by streams that carry an explicit capability
// descriptor. Wrappers implement it so that the methods they declare
// for every source are not mistaken for support by the source.
type Capable interface {
	Capabilities() Capabilities
}

// Probe reports the optional capabilities of s. An explicit descriptor
// wins over the method set.
func Probe(s Stream) Capabilities {
	if c, ok := s.(Capable); ok {
		return c.Capabilities()
	}
	var caps Capabilities
	if _, ok := s.(AsyncStream); ok {
		caps |= CapAsyncWait
	}
	if _, ok := s.(Sized); ok {
		caps |= CapLength
	}
	if _, ok := s.(AsyncLengthStream); ok {
		caps |= CapAsyncLength
	}
	return caps
}

// SyncLength returns the length of s if it can be determined without
// waiting. Streams without a length capability only qualify when they
// are non-blocking in-memory streams, where Available is the remainder.
func SyncLength(s Stream) (int64, bool) {
	caps := Probe(s)
	if caps.Has(CapLength) {
		n, err := s.(Sized).Length()
		if err != nil || n < 0 {
			return -1, false
		}
		return n, true
	}
	if caps.Has(CapAsyncLength) || caps.Has(CapAsyncWait) || !s.IsNonBlocking() {
		return -1, false
	}
	n, err := s.Available()
	if err != nil {
		return -1, false
	}
	return n, true
}
