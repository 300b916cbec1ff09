package recordreplay

import (
	"github.com/rs/zerolog/log"

	"github.com/namikmesic/replaytap/internal/stream"
)

// WrapRequestBody returns a stream the transport consumes in place of
// body while the same bytes are recorded. lengthHint is used when the
// length of body cannot be determined synchronously; pass a negative
// value when it is unknown.
//
// Uploads whose length is unknown are not recorded because the transport
// needs the length before it consumes any bytes.
func (r *Recorder) WrapRequestBody(channel any, body stream.Stream, lengthHint int64) stream.Stream {
	if !r.enabled || body == nil {
		return body
	}

	id, ok := channelID(channel)
	if !ok || r.announcer == nil {
		log.Debug().Bool("identified", ok).Msg("request body not recorded")
		return body
	}

	src := body
	if n, ok := stream.SyncLength(body); !ok || n < 0 {
		if lengthHint < 0 {
			log.Debug().Str("channel_id", id).Msg("request body length unknown, not recorded")
			return body
		}
		src = stream.WithLength(body, lengthHint)
	}

	reader, writer := r.recordingPipe()
	tee := stream.NewTee(src, writer)

	r.announcer.Announce(TopicRequestStart, reader, id)

	return stream.NewBuffered(tee, r.bufferSize)
}
