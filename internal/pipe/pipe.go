// Package pipe provides an in-process byte pipe whose reader end is a
// stream.AsyncStream and whose writer end is an io.WriteCloser.
package pipe

import (
	"bytes"
	"io"
	"math"
	"sync"

	"github.com/namikmesic/replaytap/internal/stream"
)

// DefaultCapacity bounds the bytes buffered between writer and reader.
const DefaultCapacity int64 = math.MaxUint32

type pipe struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      bytes.Buffer
	capacity int64

	// werr is set once the writer closes: io.EOF or the close error.
	werr error
	// rerr is set once the reader closes.
	rerr error

	cb       stream.ReadyCallback
	cbFlags  stream.WaitFlags
	cbTarget stream.Target

	reader *Reader
}

// New creates a connected reader/writer pair. A non-blocking reader
// returns stream.ErrWouldBlock instead of waiting for data; a
// non-blocking writer returns stream.ErrWouldBlock instead of waiting
// for capacity. A capacity of zero or less selects DefaultCapacity.
func New(nonBlockingReader, nonBlockingWriter bool, capacity int64) (*Reader, *Writer) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	p := &pipe{capacity: capacity}
	p.cond = sync.NewCond(&p.mu)
	p.reader = &Reader{p: p, nonBlocking: nonBlockingReader}
	return p.reader, &Writer{p: p, nonBlocking: nonBlockingWriter}
}

// takeReady removes the pending callback if the pipe state satisfies it.
// Must be called with mu held.
func (p *pipe) takeReady() (stream.ReadyCallback, stream.Target) {
	if p.cb == nil {
		return nil, nil
	}
	closed := p.werr != nil || p.rerr != nil
	if !closed && (p.cbFlags&stream.WaitClosureOnly != 0 || p.buf.Len() == 0) {
		return nil, nil
	}
	cb, target := p.cb, p.cbTarget
	p.cb, p.cbTarget = nil, nil
	return cb, target
}

func (p *pipe) notify(cb stream.ReadyCallback, target stream.Target) {
	if cb == nil {
		return
	}
	fire := func() { _ = cb.OnInputStreamReady(p.reader) }
	if target != nil {
		target.Dispatch(fire)
		return
	}
	fire()
}

// Reader is the read end of a pipe.
type Reader struct {
	p           *pipe
	nonBlocking bool
}

func (r *Reader) Capabilities() stream.Capabilities {
	return stream.CapAsyncWait
}

func (r *Reader) Read(b []byte) (int, error) {
	p := r.p
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if p.rerr != nil {
			return 0, stream.ErrClosed
		}
		if p.buf.Len() > 0 {
			n, _ := p.buf.Read(b)
			p.cond.Broadcast()
			return n, nil
		}
		if p.werr != nil {
			return 0, p.werr
		}
		if r.nonBlocking {
			return 0, stream.ErrWouldBlock
		}
		p.cond.Wait()
	}
}

func (r *Reader) Available() (int64, error) {
	p := r.p
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.rerr != nil:
		return 0, stream.ErrClosed
	case p.buf.Len() > 0:
		return int64(p.buf.Len()), nil
	case p.werr == io.EOF:
		return 0, stream.ErrClosed
	case p.werr != nil:
		return 0, p.werr
	}
	return 0, nil
}

func (r *Reader) IsNonBlocking() bool {
	return r.nonBlocking
}

func (r *Reader) Close() error {
	return r.CloseWithStatus(stream.ErrClosed)
}

// CloseWithStatus closes the reader; later writes fail with status.
func (r *Reader) CloseWithStatus(status error) error {
	if status == nil {
		status = stream.ErrClosed
	}
	p := r.p
	p.mu.Lock()
	if p.rerr != nil {
		p.mu.Unlock()
		return nil
	}
	p.rerr = status
	p.buf.Reset()
	p.cond.Broadcast()
	cb, target := p.takeReady()
	p.mu.Unlock()

	p.notify(cb, target)
	return nil
}

// AsyncWait registers cb to run once data is buffered or the pipe is
// closed. A later registration replaces an earlier one; nil clears it.
func (r *Reader) AsyncWait(cb stream.ReadyCallback, flags stream.WaitFlags, requested int, target stream.Target) error {
	p := r.p
	p.mu.Lock()
	p.cb, p.cbFlags, p.cbTarget = cb, flags, target
	ready, readyTarget := p.takeReady()
	p.mu.Unlock()

	p.notify(ready, readyTarget)
	return nil
}

// Writer is the write end of a pipe.
type Writer struct {
	p           *pipe
	nonBlocking bool
}

func (w *Writer) Write(b []byte) (int, error) {
	p := w.p
	p.mu.Lock()

	written := 0
	for len(b) > 0 {
		if p.rerr != nil {
			p.mu.Unlock()
			return written, p.rerr
		}
		if p.werr != nil {
			p.mu.Unlock()
			return written, stream.ErrClosed
		}

		space := p.capacity - int64(p.buf.Len())
		if space <= 0 {
			cb, target := p.takeReady()
			if w.nonBlocking {
				p.mu.Unlock()
				p.notify(cb, target)
				return written, stream.ErrWouldBlock
			}
			if cb != nil {
				p.mu.Unlock()
				p.notify(cb, target)
				p.mu.Lock()
				continue
			}
			p.cond.Wait()
			continue
		}

		n := len(b)
		if int64(n) > space {
			n = int(space)
		}
		p.buf.Write(b[:n])
		written += n
		b = b[n:]
		p.cond.Broadcast()
	}

	cb, target := p.takeReady()
	p.mu.Unlock()

	p.notify(cb, target)
	return written, nil
}

func (w *Writer) Close() error {
	return w.CloseWithError(nil)
}

// CloseWithError closes the writer. The reader returns err after the
// buffered bytes, or io.EOF when err is nil.
func (w *Writer) CloseWithError(err error) error {
	if err == nil {
		err = io.EOF
	}
	p := w.p
	p.mu.Lock()
	if p.werr != nil {
		p.mu.Unlock()
		return nil
	}
	p.werr = err
	p.cond.Broadcast()
	cb, target := p.takeReady()
	p.mu.Unlock()

	p.notify(cb, target)
	return nil
}
