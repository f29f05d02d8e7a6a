package transformer

import (
	"context"
	"encoding/json"
	"testing"
)

func feed(t *testing.T, c *OpenAIStreamConverter, frames ...string) []Event {
	t.Helper()
	var all []Event
	for _, f := range frames {
		evs, err := c.DecodeFrame(context.Background(), []byte(f))
		if err != nil {
			t.Fatalf("DecodeFrame(%q): %v", f, err)
		}
		all = append(all, evs...)
	}
	return all
}

// TestStreamConvert_TextToolCallFinish is spec scenario 4.
func TestStreamConvert_TextToolCallFinish(t *testing.T) {
	c := NewOpenAIStreamConverter()
	events := feed(t, c,
		`{"choices":[{"delta":{"content":"he"}}]}`,
		`{"choices":[{"delta":{"content":"llo"}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"t1","function":{"name":"f","arguments":"{\"x\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"1}"}}]}}]}`,
		`{"choices":[{"finish_reason":"tool_calls"}]}`,
	)

	wantNames := []string{
		"message_start",
		"content_block_start", "content_block_delta", "content_block_delta",
		"content_block_stop",
		"content_block_start",
		"content_block_delta", "content_block_delta",
		"content_block_stop",
		"message_delta", "message_stop",
	}
	if len(events) != len(wantNames) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(wantNames), names(events))
	}
	for i, want := range wantNames {
		if events[i].Name != want {
			t.Errorf("event %d: got %q, want %q", i, events[i].Name, want)
		}
	}

	toolStart := events[5].Payload.(contentBlockStartPayload)
	var block toolUseBlock
	if err := json.Unmarshal(toolStart.ContentBlock, &block); err != nil {
		t.Fatalf("unmarshal tool_use block: %v", err)
	}
	if block.ID != "t1" || block.Name != "f" {
		t.Errorf("tool_use block = %+v, want id=t1 name=f", block)
	}

	finalDelta := events[9].Payload.(messageDeltaPayload)
	if finalDelta.Delta.StopReason != "tool_use" {
		t.Errorf("stop_reason = %q, want tool_use (sawToolCalls overrides finish_reason)", finalDelta.Delta.StopReason)
	}
}

func TestStreamConvert_SingleMessageStartAndStop(t *testing.T) {
	c := NewOpenAIStreamConverter()
	events := feed(t, c,
		`{"id":"chatcmpl-1","choices":[{"delta":{"role":"assistant"}}]}`,
		`{"choices":[{"delta":{"content":"hi"}}]}`,
		`{"choices":[{"finish_reason":"stop"}]}`,
		`{"choices":[{"delta":{"content":"late"}}]}`, // after terminal: must be dropped
	)

	startCount, stopCount := 0, 0
	for _, e := range events {
		if e.Name == "message_start" {
			startCount++
		}
		if e.Name == "message_stop" {
			stopCount++
		}
	}
	if startCount != 1 {
		t.Errorf("message_start count = %d, want 1", startCount)
	}
	if stopCount != 1 {
		t.Errorf("message_stop count = %d, want 1", stopCount)
	}
	if events[len(events)-1].Name != "message_stop" {
		t.Errorf("last event = %q, want message_stop", events[len(events)-1].Name)
	}
}

func TestStreamConvert_ThinkingBlock(t *testing.T) {
	c := NewOpenAIStreamConverter()
	events := feed(t, c,
		`{"choices":[{"delta":{"thinking":"pondering"}}]}`,
		`{"choices":[{"delta":{"signature":"sig123"}}]}`,
		`{"choices":[{"delta":{"content":"answer"}}]}`,
		`{"choices":[{"finish_reason":"stop"}]}`,
	)
	wantNames := []string{
		"message_start",
		"content_block_start", "content_block_delta",
		"content_block_delta", "content_block_stop",
		"content_block_start", "content_block_delta", "content_block_stop",
		"message_delta", "message_stop",
	}
	if len(events) != len(wantNames) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(wantNames), names(events))
	}
	for i, want := range wantNames {
		if events[i].Name != want {
			t.Errorf("event %d: got %q, want %q", i, events[i].Name, want)
		}
	}
}

func TestStreamConvert_DoneSentinelYieldsNoEvent(t *testing.T) {
	c := NewOpenAIStreamConverter()
	evs, err := c.DecodeFrame(context.Background(), []byte("[DONE]"))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if len(evs) != 0 {
		t.Errorf("got %d events for [DONE], want 0", len(evs))
	}
}

func names(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Name
	}
	return out
}
