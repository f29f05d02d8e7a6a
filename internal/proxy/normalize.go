package proxy

import (
	"encoding/json"

	"github.com/florianilch/anthromux/internal/transformer"
)

// normalizeResult is what universal normalization (spec §4.4) produces for
// one buffered upstream body: either a ready-to-encode value, or a
// taxonomized error to surface instead.
type normalizeResult struct {
	Body  any
	Error *ErrorBody
}

// normalizeBuffered applies spec §4.4's universal response normalization
// to a fully-read upstream body.
func normalizeBuffered(raw []byte) normalizeResult {
	if len(raw) == 0 {
		return normalizeResult{Error: &ErrorBody{Type: errEmptyResponse, Message: "Empty response from upstream"}}
	}

	if transformer.IsOpenAIShaped(raw) {
		var oaResp transformer.OpenAIChatResponse
		if err := json.Unmarshal(raw, &oaResp); err == nil {
			return normalizeResult{Body: transformer.FromOpenAIResponse(oaResp)}
		}
	}

	if transformer.IsAnthropicShaped(raw) {
		var generic json.RawMessage
		if err := json.Unmarshal(raw, &generic); err == nil {
			return normalizeResult{Body: generic}
		}
	}

	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return normalizeResult{Error: &ErrorBody{
			Type:             errFormatError,
			Message:          "Upstream response was not valid JSON",
			OriginalResponse: string(raw),
		}}
	}

	// Valid JSON in neither recognized shape: pass it through as-is rather
	// than guessing at a conversion.
	return normalizeResult{Body: json.RawMessage(raw)}
}
