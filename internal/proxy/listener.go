package proxy

import (
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/namikmesic/replaytap/internal/recordreplay"
)

// channel identifies one proxied exchange.
type channel struct{ id uint64 }

func (c *channel) ChannelID() uint64 { return c.id }

// clientListener writes the upstream response to the client.
type clientListener struct {
	w       http.ResponseWriter
	status  int
	flusher http.Flusher
	written int64
}

func newClientListener(w http.ResponseWriter, status int, streaming bool) *clientListener {
	l := &clientListener{w: w, status: status}
	if f, ok := w.(http.Flusher); ok && streaming {
		l.flusher = f
	}
	return l
}

func (l *clientListener) OnStartRequest(req any) error {
	l.w.WriteHeader(l.status)
	return nil
}

func (l *clientListener) OnDataAvailable(req any, chunk []byte, offset int64) error {
	n, err := l.w.Write(chunk)
	l.written += int64(n)
	if err != nil {
		return err
	}
	if l.flusher != nil {
		l.flusher.Flush()
	}
	return nil
}

func (l *clientListener) OnStopRequest(req any, status error) error {
	if status != nil {
		log.Debug().Err(status).Int64("bytes", l.written).Msg("response delivery stopped early")
	}
	return nil
}

// deliver pumps body through l in chunks of len(buf). It returns the
// number of bytes delivered and the transfer status.
func deliver(l recordreplay.Listener, ch *channel, body io.Reader, buf []byte) (int64, error) {
	if err := l.OnStartRequest(ch); err != nil {
		_ = l.OnStopRequest(ch, err)
		return 0, err
	}

	var offset int64
	var status error
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if lerr := l.OnDataAvailable(ch, buf[:n], offset); lerr != nil {
				status = lerr
				break
			}
			offset += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			status = err
			break
		}
	}
	_ = l.OnStopRequest(ch, status)
	return offset, status
}
