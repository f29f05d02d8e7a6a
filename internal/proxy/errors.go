package proxy

import (
	"errors"
	"net"
	"net/http"
	"strings"
)

// Error type kinds (spec §6/§7). Not every taxonomy entry has a distinct
// HTTP status — ConfigurationError has no dedicated kind in spec §6's
// enumerated list, so it is surfaced as transformerError at 503 (see
// DESIGN.md).
const (
	errServiceUnavailable = "service_unavailable"
	errNotFound           = "not_found"
	errInvalidRequest     = "invalid_request"
	errProxyError         = "proxy_error"
	errUpstreamError      = "upstream_error"
	errTimeoutError       = "timeout_error"
	errInternalError      = "internal_error"
	errFormatError        = "format_error"
	errEmptyResponse      = "empty_response"
	errTransformerError   = "transformer_error"
)

// isTimeoutErr reports whether err represents an upstream timeout (header
// timeout, dial timeout, or context deadline) rather than a generic
// transport failure — the distinction spec §6 draws between 502 and 504.
func isTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "timeout awaiting response headers") ||
		strings.Contains(err.Error(), "context deadline exceeded")
}

// hopResponseStatus maps a dispatch failure to the HTTP status the client
// receives once no retry is available (spec §6).
func hopResponseStatus(timeout bool) int {
	if timeout {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func hopErrorType(timeout bool) string {
	if timeout {
		return errTimeoutError
	}
	return errUpstreamError
}
