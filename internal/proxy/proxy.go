package proxy

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/namikmesic/replaytap/internal/recordreplay"
	"github.com/namikmesic/replaytap/internal/storage"
	"github.com/namikmesic/replaytap/internal/stream"
)

const copyBufferSize = 32 * 1024

// Handler is the recording reverse proxy.
type Handler struct {
	upstream *url.URL
	client   *http.Client
	recorder *recordreplay.Recorder
	writer   storage.Enqueuer
	newJob   func(*storage.ExchangeRecord) storage.WriteJob
	nextID   atomic.Uint64
}

func NewHandler(upstream *url.URL, recorder *recordreplay.Recorder, writer storage.Enqueuer) *Handler {
	h := &Handler{
		upstream: upstream,
		client: &http.Client{
			// No timeout: streaming responses can be long-lived
			Timeout: 0,
			// Don't follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		recorder: recorder,
		writer:   writer,
		newJob:   storage.InsertExchangeJob,
	}
	// Seeded from the clock so channel ids of separate runs do not collide.
	h.nextID.Store(uint64(time.Now().UnixNano()))
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ch := &channel{id: h.nextID.Add(1)}
	start := time.Now()
	rec := &storage.ExchangeRecord{
		ID:             uuid.New(),
		ChannelID:      ch.id,
		Timestamp:      start,
		Method:         r.Method,
		Path:           r.URL.Path,
		RequestBytes:   r.ContentLength,
		RequestHeaders: headerMap(r.Header),
	}

	body, length := h.requestBody(ch, r)

	targetURL := buildTargetURL(h.upstream, r.URL.Path, r.URL.RawQuery)
	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, body)
	if err != nil {
		if body != nil {
			body.Close()
		}
		log.Error().Err(err).Msg("failed to create upstream request")
		http.Error(w, "failed to create upstream request", http.StatusBadGateway)
		return
	}
	upstreamReq.ContentLength = length
	upstreamReq.Header = prepareUpstreamHeaders(r.Header, r.RemoteAddr)

	resp, err := h.client.Do(upstreamReq)
	if err != nil {
		log.Error().Err(err).Str("url", targetURL).Msg("upstream request failed")
		http.Error(w, "upstream request failed", http.StatusBadGateway)

		rec.StatusCode = http.StatusBadGateway
		rec.ErrorMessage = err.Error()
		rec.ResponseTimeMs = int(time.Since(start).Milliseconds())
		h.store(rec)
		return
	}
	defer resp.Body.Close()

	streaming := isStreamingResponse(resp)

	for k, vv := range prepareClientHeaders(resp.Header) {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(ChannelHeader, strconv.FormatUint(ch.id, 10))

	client := newClientListener(w, resp.StatusCode, streaming)
	delivered, status := deliver(h.recorder.WrapResponseListener(client), ch, resp.Body, make([]byte, copyBufferSize))

	rec.StatusCode = resp.StatusCode
	rec.Success = status == nil && resp.StatusCode >= 200 && resp.StatusCode < 400
	if status != nil {
		rec.ErrorMessage = status.Error()
	}
	rec.ResponseTimeMs = int(time.Since(start).Milliseconds())
	rec.ResponseBytes = delivered
	rec.ResponseHeaders = headerMap(resp.Header)
	h.store(rec)

	log.Info().
		Uint64("channel_id", ch.id).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", resp.StatusCode).
		Bool("stream", streaming).
		Int64("bytes", delivered).
		Dur("duration", time.Since(start)).
		Msg("proxied request")
}

// requestBody returns the body to send upstream and its length, -1 when
// unknown. Bodies are wrapped for recording when their length is known.
func (h *Handler) requestBody(ch *channel, r *http.Request) (io.ReadCloser, int64) {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return nil, 0
	}

	body := h.recorder.WrapRequestBody(ch, stream.FromReader(r.Body, -1), r.ContentLength)
	if n, ok := stream.SyncLength(body); ok && n >= 0 {
		return body, n
	}
	return body, r.ContentLength
}

func (h *Handler) store(rec *storage.ExchangeRecord) {
	if h.writer == nil {
		return
	}
	if !h.writer.Enqueue(h.newJob(rec)) {
		log.Warn().Uint64("channel_id", rec.ChannelID).Msg("exchange record dropped")
	}
}

func isStreamingResponse(resp *http.Response) bool {
	ct := resp.Header.Get("Content-Type")
	return strings.Contains(ct, "text/event-stream") || resp.ContentLength < 0
}
