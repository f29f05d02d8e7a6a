package transformer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// OpenAITransformer adapts Anthropic-shaped requests to OpenAI's
// chat-completions API. It is the default transformer (spec §4.6): any
// endpoint whose host matches no other transformer's domain falls here.
type OpenAITransformer struct{}

var _ Transformer = OpenAITransformer{}

func (OpenAITransformer) Name() string    { return "openai" }
func (OpenAITransformer) Domain() string  { return "api.openai.com" }
func (OpenAITransformer) IsDefault() bool { return true }

// NormalizeRequest builds the dispatch envelope for an OpenAI-shaped
// endpoint: target URL under the endpoint's baseUrl (or OpenAI's own) and
// a bearer-token Authorization header (spec §4.6).
func (OpenAITransformer) NormalizeRequest(_ context.Context, ep EndpointInfo, _ IntermediateRequest) (DispatchConfig, error) {
	base := ep.BaseURL
	if base == "" {
		base = "https://api.openai.com"
	}
	return DispatchConfig{
		URL: base + "/v1/chat/completions",
		Headers: map[string]string{
			"Authorization": "Bearer " + ep.APIKey,
			"Content-Type":  "application/json",
		},
	}, nil
}

// FormatRequest projects the intermediate request to OpenAI chat shape.
// model is required (spec §4.6): an endpoint with no model configured and
// no model on the intermediate request cannot be dispatched.
func (OpenAITransformer) FormatRequest(_ context.Context, ep EndpointInfo, req IntermediateRequest) ([]byte, error) {
	if req.Model == "" {
		req.Model = ep.Model
	}
	if req.Model == "" {
		return nil, fmt.Errorf("openai transformer: endpoint %q has no model configured", ep.BaseURL)
	}
	out, err := ToOpenAIRequest(req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// FormatResponse passes the body through unchanged; universal
// normalization (codec.FromOpenAIResponse) handles OpenAI→Anthropic
// conversion on the buffered path.
func (OpenAITransformer) FormatResponse(_ context.Context, resp UpstreamResponse) (UpstreamResponse, error) {
	return resp, nil
}

// StreamDecoder returns a fresh OpenAI SSE→Anthropic SSE converter per
// request.
func (OpenAITransformer) StreamDecoder() StreamDecoder {
	return NewOpenAIStreamConverter()
}

// isSSEContentType reports whether an upstream Content-Type header
// indicates an event-stream body, for FormatResponse implementations that
// branch on shape (currently GeminiTransformer's).
func isSSEContentType(contentType string) bool {
	return strings.Contains(contentType, "text/event-stream")
}
