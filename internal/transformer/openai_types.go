package transformer

import "encoding/json"

// The structs below are a deliberately small, hand-written slice of the
// OpenAI chat-completions wire format — just the fields the transformer
// pipeline reads or writes — rather than a full generated OpenAPI client.
// See DESIGN.md for why oapi-codegen generation was dropped in favor of
// this.

// OpenAIChatRequest is the upstream request body the OpenAI and
// OpenRouter transformers produce.
type OpenAIChatRequest struct {
	Model           string             `json:"model"`
	Messages        []OpenAIMessage    `json:"messages"`
	MaxTokens       int                `json:"max_tokens,omitempty"`
	Temperature     *float64           `json:"temperature,omitempty"`
	TopP            *float64           `json:"top_p,omitempty"`
	Stream          bool               `json:"stream,omitempty"`
	Stop            []string           `json:"stop,omitempty"`
	Tools           []OpenAITool       `json:"tools,omitempty"`
	ToolChoice      json.RawMessage    `json:"tool_choice,omitempty"`
	ReasoningEffort string             `json:"reasoning_effort,omitempty"`
}

// OpenAIMessage is one OpenAI chat message.
type OpenAIMessage struct {
	Role       string               `json:"role"`
	Content    any                  `json:"content,omitempty"` // string or []OpenAIContentPart
	ToolCalls  []OpenAIToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
	Name       string               `json:"name,omitempty"`
}

// OpenAIContentPart is one element of an OpenAI multi-part message
// content array.
type OpenAIContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *OpenAIImgURL `json:"image_url,omitempty"`
}

// OpenAIImgURL is the image_url content-part payload.
type OpenAIImgURL struct {
	URL string `json:"url"`
}

// OpenAIToolCall is one tool call inside an assistant message or a
// streaming delta.
type OpenAIToolCall struct {
	Index    *int               `json:"index,omitempty"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function OpenAIToolCallFunc `json:"function"`
}

// OpenAIToolCallFunc is a tool call's function name/arguments pair.
type OpenAIToolCallFunc struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// OpenAITool is an OpenAI-shaped tool/function definition.
type OpenAITool struct {
	Type     string             `json:"type"`
	Function OpenAIToolFunction `json:"function"`
}

// OpenAIToolFunction describes one callable tool.
type OpenAIToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// OpenAIChatResponse is a non-streaming OpenAI chat-completions response.
type OpenAIChatResponse struct {
	ID      string               `json:"id"`
	Object  string               `json:"object"`
	Model   string               `json:"model"`
	Choices []OpenAIChatChoice   `json:"choices"`
	Usage   OpenAIUsage          `json:"usage"`
}

// OpenAIChatChoice is one choice of a non-streaming response.
type OpenAIChatChoice struct {
	Index        int           `json:"index"`
	Message      OpenAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// OpenAIUsage is OpenAI's token accounting shape.
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// OpenAIChatChunk is one streaming SSE data frame in OpenAI chunk shape.
type OpenAIChatChunk struct {
	ID      string                  `json:"id"`
	Model   string                  `json:"model"`
	Choices []OpenAIChatChunkChoice `json:"choices"`
}

// OpenAIChatChunkChoice is one choice of a streaming chunk.
type OpenAIChatChunkChoice struct {
	Index        int              `json:"index"`
	Delta        OpenAIChunkDelta `json:"delta"`
	FinishReason *string          `json:"finish_reason"`
}

// OpenAIChunkDelta is the incremental content of one streaming chunk.
type OpenAIChunkDelta struct {
	Role        string                `json:"role,omitempty"`
	Content     string                `json:"content,omitempty"`
	Thinking    string                `json:"thinking,omitempty"`
	Signature   string                `json:"signature,omitempty"`
	Annotations []OpenAIAnnotation    `json:"annotations,omitempty"`
	ToolCalls   []OpenAIToolCall      `json:"tool_calls,omitempty"`
}

// OpenAIAnnotation is a web-search citation annotation on a streaming
// delta (an OpenRouter/OpenAI extension, not part of core OpenAI chat
// completions, but accepted here since spec §4.5 requires handling it).
type OpenAIAnnotation struct {
	Type        string `json:"type"`
	URL         string `json:"url"`
	Title       string `json:"title"`
}
