package recordreplay

import (
	"io"

	"github.com/rs/zerolog/log"

	"github.com/namikmesic/replaytap/internal/stream"
)

// RequestObserver is told when a transfer starts and stops.
type RequestObserver interface {
	OnStartRequest(req any) error
	OnStopRequest(req any, status error) error
}

// Listener consumes a response body as it is delivered in chunks. req is
// the channel the body belongs to. status is nil when the transfer
// completed successfully.
type Listener interface {
	RequestObserver
	OnDataAvailable(req any, chunk []byte, offset int64) error
}

// ListenerTee delivers every chunk unchanged to a listener and mirrors it
// into a sink.
type ListenerTee struct {
	listener Listener
	observer RequestObserver
	sink     *stream.Sink
}

// NewListenerTee interposes on listener. observer may be nil.
func NewListenerTee(listener Listener, sink io.WriteCloser, observer RequestObserver) *ListenerTee {
	return &ListenerTee{
		listener: listener,
		observer: observer,
		sink:     stream.NewSink(sink),
	}
}

// Recording reports whether chunks are still mirrored into the sink.
func (t *ListenerTee) Recording() bool {
	return t.sink.Active()
}

// OnStartRequest starts the listener, then the observer. The observer's
// error is returned only when the listener started cleanly.
func (t *ListenerTee) OnStartRequest(req any) error {
	err := t.listener.OnStartRequest(req)
	if t.observer != nil {
		if oerr := t.observer.OnStartRequest(req); oerr != nil && err == nil {
			err = oerr
		}
	}
	return err
}

func (t *ListenerTee) OnDataAvailable(req any, chunk []byte, offset int64) error {
	t.sink.Write(chunk)
	return t.listener.OnDataAvailable(req, chunk, offset)
}

// OnStopRequest ends the recording by closing the sink before the
// listener and observer are told the transfer stopped.
func (t *ListenerTee) OnStopRequest(req any, status error) error {
	if err := t.sink.Close(); err != nil {
		log.Warn().Err(err).Msg("listener tee sink close failed")
	}
	err := t.listener.OnStopRequest(req, status)
	if t.observer != nil {
		_ = t.observer.OnStopRequest(req, status)
	}
	return err
}
