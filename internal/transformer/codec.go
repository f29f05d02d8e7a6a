package transformer

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ToOpenAIRequest projects an Anthropic-shaped IntermediateRequest into
// OpenAI chat-completions shape. Grounded on the teacher's
// fromChatCompletionRequestMessages/buildGenerationParams, direction
// mirrored: the teacher converts OpenAI input into Anthropic provider
// calls, this converts Anthropic input into OpenAI provider calls.
func ToOpenAIRequest(req IntermediateRequest) (OpenAIChatRequest, error) {
	out := OpenAIChatRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
		Stop:        req.StopSequences,
	}

	if len(req.System) > 0 {
		var sysText string
		if err := json.Unmarshal(req.System, &sysText); err != nil {
			// Anthropic also allows system as a content-block array;
			// concatenate their text fields.
			var blocks []ContentBlock
			if jerr := json.Unmarshal(req.System, &blocks); jerr == nil {
				for _, b := range blocks {
					if b.Text != "" {
						if sysText != "" {
							sysText += "\n"
						}
						sysText += b.Text
					}
				}
			}
		}
		if sysText != "" {
			out.Messages = append(out.Messages, OpenAIMessage{Role: "system", Content: sysText})
		}
	}

	for i, msg := range req.Messages {
		converted, err := messageToOpenAI(msg)
		if err != nil {
			return out, fmt.Errorf("transform message %d: %w", i, err)
		}
		out.Messages = append(out.Messages, converted...)
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, OpenAITool{
			Type: "function",
			Function: OpenAIToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	if len(req.ToolChoice) > 0 {
		out.ToolChoice = req.ToolChoice
	}

	out.ReasoningEffort = reasoningEffortFromThinking(req.Thinking)

	return out, nil
}

// messageToOpenAI converts one Anthropic message into zero or more OpenAI
// messages — an Anthropic user message carrying both text and
// tool_result blocks splits into a plain user message plus one synthetic
// "tool" message per result, since OpenAI represents tool results as
// distinct messages keyed by tool_call_id.
func messageToOpenAI(msg Message) ([]OpenAIMessage, error) {
	blocks, err := msg.ContentBlocks()
	if err != nil {
		return nil, err
	}

	var out []OpenAIMessage
	var textParts []string
	var toolCalls []OpenAIToolCall

	for _, b := range blocks {
		switch b.Type {
		case "text":
			textParts = append(textParts, b.Text)
		case "tool_use":
			toolCalls = append(toolCalls, OpenAIToolCall{
				ID:   b.ID,
				Type: "function",
				Function: OpenAIToolCallFunc{
					Name:      b.Name,
					Arguments: string(b.Input),
				},
			})
		case "tool_result":
			resultText := contentBlockResultText(b.Content)
			out = append(out, OpenAIMessage{
				Role:       "tool",
				ToolCallID: b.ToolUseID,
				Content:    resultText,
			})
		}
	}

	if len(textParts) > 0 || len(toolCalls) > 0 {
		m := OpenAIMessage{Role: msg.Role}
		if len(textParts) > 0 {
			m.Content = joinText(textParts)
		}
		if len(toolCalls) > 0 {
			m.ToolCalls = toolCalls
		}
		// tool results must precede the next user/assistant turn in the
		// merged sequence, so any text or tool_use carried by the same
		// message is placed after the synthetic tool messages.
		out = append(out, m)
	}

	return out, nil
}

func contentBlockResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return joinText(parts)
	}
	return string(raw)
}

func joinText(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n"
		}
		out += p
	}
	return out
}

// FromOpenAIResponse is the universal-normalization buffered-response
// conversion (spec §4.4): an OpenAI chat.completion body becomes an
// Anthropic message response.
func FromOpenAIResponse(resp OpenAIChatResponse) AnthropicResponse {
	out := AnthropicResponse{
		ID:    resp.ID,
		Type:  "message",
		Role:  "assistant",
		Model: resp.Model,
		Usage: AnthropicUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}

	if len(resp.Choices) == 0 {
		out.StopReason = "end_turn"
		return out
	}

	choice := resp.Choices[0]
	sawToolCalls := len(choice.Message.ToolCalls) > 0

	if text, ok := choice.Message.Content.(string); ok && text != "" {
		out.Content = append(out.Content, AnthropicRespBlock{Type: "text", Text: text})
	}
	for _, tc := range choice.Message.ToolCalls {
		input := tc.Function.Arguments
		if input == "" {
			input = "{}"
		}
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		out.Content = append(out.Content, AnthropicRespBlock{
			Type:  "tool_use",
			ID:    id,
			Name:  tc.Function.Name,
			Input: json.RawMessage(input),
		})
	}

	out.StopReason = finishReasonToStopReason(choice.FinishReason, sawToolCalls)
	return out
}

// IsAnthropicShaped reports whether raw already looks like an Anthropic
// message response — used by universal normalization's idempotence
// requirement (P6): an already-Anthropic body is returned unchanged
// rather than mis-detected as OpenAI shape.
func IsAnthropicShaped(raw []byte) bool {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Type == "message"
}

// IsOpenAIShaped reports whether raw looks like an OpenAI
// chat.completion body (spec §4.4's detection rule).
func IsOpenAIShaped(raw []byte) bool {
	var probe struct {
		Object  string            `json:"object"`
		Choices []json.RawMessage `json:"choices"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Object == "chat.completion" && len(probe.Choices) > 0
}
