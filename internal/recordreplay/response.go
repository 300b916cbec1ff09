package recordreplay

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/namikmesic/replaytap/internal/stream"
)

// responseObserver announces a response recording when the response
// starts. It owns the pipe reader until it is handed to the announcer,
// or drops the recording when it cannot be announced.
type responseObserver struct {
	once      sync.Once
	announcer Announcer
	reader    stream.Stream
	// drop discards the tee's sink so no chunk is written to it.
	drop func() error
}

func (o *responseObserver) OnStartRequest(req any) error {
	o.once.Do(func() {
		reader := o.reader
		o.reader = nil

		id, ok := channelID(req)
		if !ok || o.announcer == nil {
			log.Debug().Bool("identified", ok).Msg("response body not recorded")
			if o.drop != nil {
				_ = o.drop()
			}
			_ = reader.Close()
			return
		}
		o.announcer.Announce(TopicResponseStart, reader, id)
	})
	return nil
}

// OnStopRequest does nothing: observers learn that the response ended
// when the pipe reports end-of-data.
func (o *responseObserver) OnStopRequest(req any, status error) error {
	return nil
}

// WrapResponseListener returns a listener that delivers the response to
// listener while recording it.
func (r *Recorder) WrapResponseListener(listener Listener) Listener {
	if !r.enabled {
		return listener
	}

	reader, writer := r.recordingPipe()
	observer := &responseObserver{announcer: r.announcer, reader: reader}
	tee := NewListenerTee(listener, writer, observer)
	observer.drop = tee.sink.Close
	return tee
}
