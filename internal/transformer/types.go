// Package transformer translates between the Anthropic-shaped request and
// response bodies the gateway's clients speak and the native wire shapes
// of its upstream providers (OpenAI, OpenRouter, Gemini), including
// Server-Sent Events stream conversion.
package transformer

import "encoding/json"

// IntermediateRequest is the Anthropic-shaped chat payload the Proxy
// Engine parses off the client request, before any provider-specific
// translation (spec §3).
type IntermediateRequest struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	MaxTokens     int             `json:"max_tokens"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	System        json.RawMessage `json:"system,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    json.RawMessage `json:"tool_choice,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Thinking      *ThinkingConfig `json:"thinking,omitempty"`
}

// ThinkingConfig is Anthropic's extended-thinking request field.
type ThinkingConfig struct {
	Type         string `json:"type"` // "enabled" or "disabled"
	BudgetTokens int64  `json:"budget_tokens,omitempty"`
}

// Message is one turn of an Anthropic-shaped conversation. Content may be a
// plain string or an array of content blocks; both forms are represented
// as raw JSON and resolved by ContentBlocks.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ContentBlock is one element of an Anthropic content-block array (text,
// tool_use, tool_result, image).
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`         // tool_use
	Name      string          `json:"name,omitempty"`       // tool_use
	Input     json.RawMessage `json:"input,omitempty"`      // tool_use
	ToolUseID string          `json:"tool_use_id,omitempty"` // tool_result
	Content   json.RawMessage `json:"content,omitempty"`    // tool_result
	IsError   bool            `json:"is_error,omitempty"`   // tool_result
	Source    *ImageSource    `json:"source,omitempty"`     // image
}

// ImageSource is an Anthropic inline image content block's source.
type ImageSource struct {
	Type      string `json:"type"` // "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// Tool is an Anthropic-shaped tool definition.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// DispatchConfig is the HTTP envelope normalizeRequest produces: where to
// send the request and with which headers. The body is assembled
// separately by formatRequest.
type DispatchConfig struct {
	URL     string
	Headers map[string]string
}

// ContentBlocks decodes Message.Content into a content-block slice,
// whether the wire form was a plain string or an array.
func (m Message) ContentBlocks() ([]ContentBlock, error) {
	if len(m.Content) == 0 {
		return nil, nil
	}

	var asString string
	if err := json.Unmarshal(m.Content, &asString); err == nil {
		if asString == "" {
			return nil, nil
		}
		return []ContentBlock{{Type: "text", Text: asString}}, nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}
