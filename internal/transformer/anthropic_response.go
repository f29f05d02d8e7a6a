package transformer

import "encoding/json"

// AnthropicResponse is the Anthropic Messages API non-streaming response
// shape the gateway's clients expect (spec scenario 3).
type AnthropicResponse struct {
	ID           string                `json:"id,omitempty"`
	Type         string                `json:"type"`
	Role         string                `json:"role"`
	Model        string                `json:"model,omitempty"`
	Content      []AnthropicRespBlock  `json:"content"`
	StopReason   string                `json:"stop_reason,omitempty"`
	StopSequence *string               `json:"stop_sequence"`
	Usage        AnthropicUsage        `json:"usage"`
}

// AnthropicRespBlock is one Anthropic response content block.
type AnthropicRespBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// AnthropicUsage is Anthropic's token-accounting shape.
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// finishReasonToStopReason implements spec §4.5's finish_reason mapping,
// reused by both the buffered and streaming paths.
func finishReasonToStopReason(finishReason string, sawToolCalls bool) string {
	if sawToolCalls {
		return "tool_use"
	}
	switch finishReason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	case "content_filter":
		return "stop_sequence"
	default:
		return "end_turn"
	}
}
