package transformer

import (
	"encoding/json"
	"testing"
)

// TestUniversalNormalization_Idempotence is P6: an already-Anthropic
// response body, detected as such, is left untouched rather than
// re-wrapped or mis-converted.
func TestUniversalNormalization_Idempotence(t *testing.T) {
	body := []byte(`{"type":"message","role":"assistant","content":[{"type":"text","text":"hi"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`)

	if !IsAnthropicShaped(body) {
		t.Fatalf("expected body to be detected as Anthropic-shaped")
	}
	if IsOpenAIShaped(body) {
		t.Fatalf("an Anthropic-shaped body must not also be detected as OpenAI-shaped")
	}
}

// TestOpenAIToAnthropic_Scenario3 mirrors spec scenario 3: an OpenAI
// chat.completion body converts to the exact Anthropic shape the client
// expects.
func TestOpenAIToAnthropic_Scenario3(t *testing.T) {
	upstream := OpenAIChatResponse{
		Object: "chat.completion",
		Choices: []OpenAIChatChoice{{
			Message:      OpenAIMessage{Role: "assistant", Content: "hello"},
			FinishReason: "stop",
		}},
		Usage: OpenAIUsage{PromptTokens: 1, CompletionTokens: 1},
	}

	got := FromOpenAIResponse(upstream)

	if got.Type != "message" || got.Role != "assistant" {
		t.Fatalf("got type=%q role=%q, want message/assistant", got.Type, got.Role)
	}
	if len(got.Content) != 1 || got.Content[0].Type != "text" || got.Content[0].Text != "hello" {
		t.Fatalf("content = %+v, want single text block 'hello'", got.Content)
	}
	if got.StopReason != "end_turn" {
		t.Errorf("stop_reason = %q, want end_turn", got.StopReason)
	}
	if got.Usage.InputTokens != 1 || got.Usage.OutputTokens != 1 {
		t.Errorf("usage = %+v, want {1 1}", got.Usage)
	}
}

func TestIsOpenAIShaped(t *testing.T) {
	cases := []struct {
		name string
		body string
		want bool
	}{
		{"chat completion", `{"object":"chat.completion","choices":[{}]}`, true},
		{"empty choices", `{"object":"chat.completion","choices":[]}`, false},
		{"anthropic message", `{"type":"message"}`, false},
		{"not json", `not json at all`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsOpenAIShaped([]byte(tc.body)); got != tc.want {
				t.Errorf("IsOpenAIShaped(%q) = %v, want %v", tc.body, got, tc.want)
			}
		})
	}
}

func TestToOpenAIRequest_ReasoningEffort(t *testing.T) {
	req := IntermediateRequest{
		Model:     "gpt-5",
		MaxTokens: 100,
		Messages:  []Message{{Role: "user", Content: json.RawMessage(`"hi"`)}},
		Thinking:  &ThinkingConfig{Type: "enabled", BudgetTokens: 4096},
	}
	out, err := ToOpenAIRequest(req)
	if err != nil {
		t.Fatalf("ToOpenAIRequest: %v", err)
	}
	if out.ReasoningEffort != "medium" {
		t.Errorf("reasoning_effort = %q, want medium", out.ReasoningEffort)
	}
	if len(out.Messages) != 1 || out.Messages[0].Role != "user" {
		t.Fatalf("messages = %+v", out.Messages)
	}
}
