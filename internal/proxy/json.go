package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorResponse is the gateway's JSON error body shape (spec §6):
// {"error":{"message": ..., "type": ...}}.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the taxonomized error kind and a human-readable
// message. Type is one of the kinds spec §6 enumerates
// (service_unavailable, not_found, invalid_request, proxy_error,
// upstream_error, timeout_error, internal_error, format_error,
// empty_response, transformer_error).
type ErrorBody struct {
	Message          string `json:"message"`
	Type             string `json:"type"`
	OriginalResponse string `json:"originalResponse,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
// Logs encoding failures internally using the provided context.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	// Headers and status are written before encoding to avoid buffering.
	// If encoding fails, the client may receive a partial response.
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}

// writeJSONError writes a taxonomized JSON error response (spec §6/§7).
func writeJSONError(ctx context.Context, w http.ResponseWriter, errType, message string, status int) {
	writeJSON(ctx, w, ErrorResponse{Error: ErrorBody{Message: message, Type: errType}}, status)
}
