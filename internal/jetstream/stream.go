package jetstream

import (
	"errors"
	"fmt"
	"strings"
	"time"

	nats "github.com/nats-io/nats.go"
)

const (
	StreamName    = "REPLAY"
	SubjectPrefix = "replay."
	SubjectAll    = SubjectPrefix + ">"

	KindRequest  = "request"
	KindResponse = "response"

	doneSuffix = ".done"

	// MaxAge is how long the stream keeps a message.
	MaxAge = 24 * time.Hour
)

// Done is published once a recording reached end-of-data. Bytes and
// Chunks count what was published before it.
type Done struct {
	Bytes  int64  `json:"bytes"`
	Chunks int    `json:"chunks"`
	Error  string `json:"error,omitempty"`
	TS     int64  `json:"ts"`
}

func EnsureStream(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectAll},
		Storage:   nats.FileStorage,
		MaxAge:    MaxAge,
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("add stream %s: %w", StreamName, err)
	}
	return nil
}

// ChunkSubject is where the body chunks of one recording are published.
func ChunkSubject(kind, channelID string) string {
	return SubjectPrefix + kind + "." + channelID
}

func DoneSubject(kind, channelID string) string {
	return ChunkSubject(kind, channelID) + doneSuffix
}

// ParseSubject splits a recording subject into its kind and channel id.
func ParseSubject(subject string) (kind, channelID string, done, ok bool) {
	rest, found := strings.CutPrefix(subject, SubjectPrefix)
	if !found {
		return "", "", false, false
	}
	rest, done = strings.CutSuffix(rest, doneSuffix)
	kind, channelID, found = strings.Cut(rest, ".")
	if !found || channelID == "" || strings.Contains(channelID, ".") {
		return "", "", false, false
	}
	if kind != KindRequest && kind != KindResponse {
		return "", "", false, false
	}
	return kind, channelID, done, true
}
