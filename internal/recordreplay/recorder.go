// Package recordreplay duplicates request and response bodies in transit
// into pipes that recording observers read independently of the primary
// transfer.
package recordreplay

import (
	"io"
	"strconv"

	"github.com/namikmesic/replaytap/internal/pipe"
	"github.com/namikmesic/replaytap/internal/stream"
)

const (
	TopicRequestStart  = "replay-request-start"
	TopicResponseStart = "replay-response-start"
)

// Identified is implemented by channels that carry a stable numeric id.
// Channels without one are never recorded.
type Identified interface {
	ChannelID() uint64
}

// Announcer publishes a freshly started recording. payload is the read end
// of the recording pipe and channelID the decimal channel id.
type Announcer interface {
	Announce(topic string, payload stream.Stream, channelID string)
}

// PipeFactory creates a connected reader/writer pair.
type PipeFactory func(nonBlockingReader, nonBlockingWriter bool) (stream.Stream, io.WriteCloser)

// Options configure a Recorder. They are read once, at construction.
type Options struct {
	// Enabled is the record/replay mode. When false both wrappers return
	// their argument unchanged.
	Enabled bool

	// Announcer receives recording announcements. Without one nothing is
	// recorded.
	Announcer Announcer

	// NewPipe overrides the pipe used for recordings.
	NewPipe PipeFactory

	// PipeCapacity bounds each default recording pipe, see pipe.New.
	PipeCapacity int64

	// BufferSize is the read-ahead placed in front of recorded request
	// bodies. Defaults to stream.DefaultBufferSize.
	BufferSize int
}

// Recorder wraps request bodies and response listeners of identified
// channels.
type Recorder struct {
	enabled    bool
	announcer  Announcer
	newPipe    PipeFactory
	bufferSize int
}

func New(opts Options) *Recorder {
	r := &Recorder{
		enabled:    opts.Enabled,
		announcer:  opts.Announcer,
		newPipe:    opts.NewPipe,
		bufferSize: opts.BufferSize,
	}
	if r.newPipe == nil {
		capacity := opts.PipeCapacity
		r.newPipe = func(nonBlockingReader, nonBlockingWriter bool) (stream.Stream, io.WriteCloser) {
			return pipe.New(nonBlockingReader, nonBlockingWriter, capacity)
		}
	}
	if r.bufferSize <= 0 {
		r.bufferSize = stream.DefaultBufferSize
	}
	return r
}

// Enabled reports whether the recorder wraps anything at all.
func (r *Recorder) Enabled() bool {
	return r.enabled
}

// recordingPipe returns a pipe whose reader blocks like a plain io.Reader
// and whose writer never makes the primary path wait.
func (r *Recorder) recordingPipe() (stream.Stream, io.WriteCloser) {
	return r.newPipe(false, true)
}

func channelID(channel any) (string, bool) {
	id, ok := channel.(Identified)
	if !ok {
		return "", false
	}
	return strconv.FormatUint(id.ChannelID(), 10), true
}
