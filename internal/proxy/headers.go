package proxy

import (
	"net"
	"net/http"
	"strings"
)

// Hop-by-hop headers that must not be forwarded.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

const ChannelHeader = "X-Replay-Channel"

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// stripHopByHop removes the standard hop-by-hop headers and any header
// the Connection header names.
func stripHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, key := range hopByHopHeaders {
		h.Del(key)
	}
}

func prepareUpstreamHeaders(original http.Header, remoteAddr string) http.Header {
	h := make(http.Header)
	copyHeaders(h, original)
	stripHopByHop(h)

	h.Del("Host")

	// Recordings hold identity-encoded bodies.
	h.Del("Accept-Encoding")

	if ip, _, err := net.SplitHostPort(remoteAddr); err == nil {
		if prior := h.Get("X-Forwarded-For"); prior != "" {
			ip = prior + ", " + ip
		}
		h.Set("X-Forwarded-For", ip)
	}
	return h
}

func prepareClientHeaders(upstream http.Header) http.Header {
	h := make(http.Header)
	copyHeaders(h, upstream)
	stripHopByHop(h)
	h.Del("Content-Encoding")
	h.Del("Content-Length") // will be set by http.ResponseWriter
	return h
}

func headerMap(h http.Header) map[string][]string {
	// Filter out sensitive headers before storing
	m := make(map[string][]string, len(h))
	for k, v := range h {
		switch strings.ToLower(k) {
		case "authorization", "x-api-key", "cookie", "set-cookie", "proxy-authorization":
			m[k] = []string{"[REDACTED]"}
		default:
			m[k] = v
		}
	}
	return m
}
