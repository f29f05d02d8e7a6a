package proxy

import (
	"net/http"
	"strings"
)

// hopByHopHeaders are stripped in both directions (spec §4.3/§8 P8): they
// describe the connection between one pair of endpoints and must never be
// forwarded to (or from) a different hop.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Transfer-Encoding",
	"Upgrade",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
}

// stripHopByHop removes hop-by-hop headers from h in place, along with any
// header named in h's Connection value (per RFC 7230 §6.1).
func stripHopByHop(h http.Header) {
	for _, conn := range h.Values("Connection") {
		for _, name := range strings.Split(conn, ",") {
			h.Del(strings.TrimSpace(name))
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// cloneForwardableHeaders copies src into a fresh http.Header with
// hop-by-hop headers removed, ready to attach to an outbound or client
// response (spec §4.3 point 6, §8 P8).
func cloneForwardableHeaders(src http.Header) http.Header {
	out := src.Clone()
	stripHopByHop(out)
	return out
}

// buildUpstreamHeaders assembles the headers for a verbatim (non
// -transformer) forward: the client's headers, hop-by-hop stripped, with
// x-api-key set to the endpoint's key and any Authorization header
// removed (spec §4.3 point 4 forwards "after stripping hop-by-hop headers
// and replacing x-api-key with the endpoint's key, deleting Authorization").
func buildUpstreamHeaders(clientHeaders http.Header, apiKey string) http.Header {
	out := cloneForwardableHeaders(clientHeaders)
	out.Del("Authorization")
	out.Del("Host")
	out.Set("X-Api-Key", apiKey)
	return out
}
