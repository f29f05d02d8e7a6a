package transformer

import "encoding/json"

// Event is one outgoing Anthropic SSE frame: Name is the "event:" line,
// Payload is marshaled as the "data:" line. These are hand-written to
// match Anthropic's public streaming schema rather than built from
// anthropic-sdk-go's client-side event-union types — see DESIGN.md.
type Event struct {
	Name    string
	Payload any
}

type messageStartPayload struct {
	Type    string          `json:"type"`
	Message messageStubBody `json:"message"`
}

type messageStubBody struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Role         string          `json:"role"`
	Model        string          `json:"model"`
	Content      []any           `json:"content"`
	StopReason   *string         `json:"stop_reason"`
	StopSequence *string         `json:"stop_sequence"`
	Usage        AnthropicUsage  `json:"usage"`
}

type contentBlockStartPayload struct {
	Type         string          `json:"type"`
	Index        int             `json:"index"`
	ContentBlock json.RawMessage `json:"content_block"`
}

type contentBlockDeltaPayload struct {
	Type  string          `json:"type"`
	Index int             `json:"index"`
	Delta json.RawMessage `json:"delta"`
}

type contentBlockStopPayload struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type messageDeltaPayload struct {
	Type  string              `json:"type"`
	Delta messageDeltaBody    `json:"delta"`
	Usage AnthropicUsage      `json:"usage"`
}

type messageDeltaBody struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

type messageStopPayload struct {
	Type string `json:"type"`
}

func newMessageStart(id, model string) Event {
	return Event{Name: "message_start", Payload: messageStartPayload{
		Type: "message_start",
		Message: messageStubBody{
			ID:      id,
			Type:    "message",
			Role:    "assistant",
			Model:   model,
			Content: []any{},
			Usage:   AnthropicUsage{},
		},
	}}
}

func newContentBlockStart(index int, block any) Event {
	raw, _ := json.Marshal(block)
	return Event{Name: "content_block_start", Payload: contentBlockStartPayload{
		Type: "content_block_start", Index: index, ContentBlock: raw,
	}}
}

func newContentBlockDelta(index int, delta any) Event {
	raw, _ := json.Marshal(delta)
	return Event{Name: "content_block_delta", Payload: contentBlockDeltaPayload{
		Type: "content_block_delta", Index: index, Delta: raw,
	}}
}

func newContentBlockStop(index int) Event {
	return Event{Name: "content_block_stop", Payload: contentBlockStopPayload{
		Type: "content_block_stop", Index: index,
	}}
}

func newMessageDelta(stopReason string, inputTokens, outputTokens int) Event {
	return Event{Name: "message_delta", Payload: messageDeltaPayload{
		Type: "message_delta",
		Delta: messageDeltaBody{
			StopReason:   stopReason,
			StopSequence: nil,
		},
		Usage: AnthropicUsage{InputTokens: inputTokens, OutputTokens: outputTokens},
	}}
}

func newMessageStop() Event {
	return Event{Name: "message_stop", Payload: messageStopPayload{Type: "message_stop"}}
}

type textBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type thinkingBlock struct {
	Type      string `json:"type"`
	Thinking  string `json:"thinking"`
	Signature string `json:"signature,omitempty"`
}

type toolUseBlock struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input any    `json:"input"`
}

type webSearchResultBlock struct {
	Type      string                  `json:"type"`
	ToolUseID string                  `json:"tool_use_id"`
	Content   []webSearchResultEntry  `json:"content"`
}

type webSearchResultEntry struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

type textDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type thinkingDelta struct {
	Type     string `json:"type"`
	Thinking string `json:"thinking"`
}

type signatureDelta struct {
	Type      string `json:"type"`
	Signature string `json:"signature"`
}

type inputJSONDelta struct {
	Type        string `json:"type"`
	PartialJSON string `json:"partial_json"`
}
