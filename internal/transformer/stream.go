package transformer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// maxTailBuffer bounds the unterminated-line buffer the frame reader holds
// before giving up on finding a delimiter and flushing what it has (spec
// §4.5 buffer discipline).
const maxTailBuffer = 1 << 20 // 1 MiB

// StreamDecoder turns one provider's raw SSE data payload into zero or
// more outgoing Anthropic SSE events. Implementations hold per-message
// state across calls (contentIndex, open-block tracking); a fresh decoder
// must be constructed per client request.
type StreamDecoder interface {
	// DecodeFrame consumes one "data:" payload (already stripped of the
	// "data: " prefix and trailing newlines) and returns the Anthropic
	// events it produces, if any. payload == "[DONE]" is the OpenAI stream
	// terminator and yields no event on its own — termination is driven by
	// finish_reason, not by [DONE].
	DecodeFrame(ctx context.Context, payload []byte) ([]Event, error)
}

// ReadSSEFrames scans r for "data: ..." lines delimited by blank lines,
// invoking onFrame with each payload's bytes (comment lines and blank
// lines are skipped). It line-buffers the input with the 1 MiB tail-buffer
// fallback spec §4.5 describes: an overlong unterminated line is flushed
// as-is rather than held indefinitely.
func ReadSSEFrames(r io.Reader, onFrame func(payload []byte) error) error {
	br := bufio.NewReaderSize(r, 4096)
	var line []byte

	flushLine := func() error {
		trimmed := bytes.TrimRight(line, "\r\n")
		line = line[:0]
		if len(trimmed) == 0 {
			return nil
		}
		if bytes.HasPrefix(trimmed, []byte(":")) {
			return nil // SSE comment line
		}
		payload, ok := bytes.CutPrefix(trimmed, []byte("data:"))
		if !ok {
			return nil
		}
		payload = bytes.TrimPrefix(payload, []byte(" "))
		return onFrame(payload)
	}

	for {
		// ReadSlice (unlike ReadBytes) hands back a partial line whenever
		// the reader's buffer fills, so the tail-buffer check below can act.
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 {
			line = append(line, chunk...)
			if chunk[len(chunk)-1] == '\n' {
				if ferr := flushLine(); ferr != nil {
					return ferr
				}
			} else if len(line) > maxTailBuffer {
				if ferr := flushLine(); ferr != nil {
					return ferr
				}
			}
		}
		if err != nil {
			if err == bufio.ErrBufferFull {
				continue
			}
			if err == io.EOF {
				if len(line) > 0 {
					return flushLine()
				}
				return nil
			}
			return err
		}
	}
}

// phase is the stream converter's explicit state, per spec §9's design
// note: Idle/Started/InText/InToolCall/InThinking/Finished kept in a
// struct field, not scattered across closures.
type phase int

const (
	phaseIdle phase = iota
	phaseStarted
	phaseInText
	phaseInThinking
	phaseInToolCall
	phaseFinished
)

type toolMapping struct {
	contentIndex    int
	id              string
	name            string
	idSynthesized   bool
	nameSynthesized bool
}

// OpenAIStreamConverter implements StreamDecoder for plain OpenAI-shaped
// streaming chunks. Grounded on jedarden-CLASP's StreamState/
// StreamProcessor/toolCallState shape (see DESIGN.md), reimplemented
// against this gateway's own Event/frame types.
type OpenAIStreamConverter struct {
	messageID string
	model     string

	phase            phase
	openIndex        int
	nextContentIndex int

	toolByOpenAIIndex map[int]*toolMapping
	openToolIndex     int // OpenAI tool_calls[].index currently open, valid when phase==phaseInToolCall

	sawToolCalls bool
	finished     bool
}

// NewOpenAIStreamConverter constructs a converter for one client request's
// response stream.
func NewOpenAIStreamConverter() *OpenAIStreamConverter {
	return &OpenAIStreamConverter{
		toolByOpenAIIndex: make(map[int]*toolMapping),
	}
}

var _ StreamDecoder = (*OpenAIStreamConverter)(nil)

// DecodeFrame implements StreamDecoder.
func (c *OpenAIStreamConverter) DecodeFrame(_ context.Context, payload []byte) ([]Event, error) {
	if c.finished {
		return nil, nil // late frames after a terminal are dropped
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if string(trimmed) == "[DONE]" {
		return nil, nil // termination is driven by finish_reason, not [DONE]
	}

	var chunk OpenAIChatChunk
	if err := json.Unmarshal(trimmed, &chunk); err != nil {
		return nil, nil // StreamDecodeError: drop the frame, stream continues
	}

	var events []Event
	c.ensureStarted(&events, chunk)

	if len(chunk.Choices) == 0 {
		return events, nil
	}
	choice := chunk.Choices[0]
	delta := choice.Delta

	c.handleThinking(&events, delta)
	c.handleText(&events, delta)
	c.handleAnnotations(&events, delta)
	c.handleToolCalls(&events, delta)
	c.handleFinish(&events, choice.FinishReason)

	return events, nil
}

func (c *OpenAIStreamConverter) ensureStarted(events *[]Event, chunk OpenAIChatChunk) {
	if c.phase != phaseIdle {
		return
	}
	c.messageID = chunk.ID
	if c.messageID == "" {
		c.messageID = "msg_" + uuid.NewString()
	}
	c.model = chunk.Model
	*events = append(*events, newMessageStart(c.messageID, c.model))
	c.phase = phaseStarted
}

func (c *OpenAIStreamConverter) allocateIndex() int {
	idx := c.nextContentIndex
	c.nextContentIndex++
	return idx
}

// closeOpenBlock emits content_block_stop for whatever block is currently
// open (text/thinking/tool_use) and returns to phaseStarted.
func (c *OpenAIStreamConverter) closeOpenBlock(events *[]Event) {
	switch c.phase {
	case phaseInText, phaseInThinking, phaseInToolCall:
		*events = append(*events, newContentBlockStop(c.openIndex))
		c.phase = phaseStarted
	}
}

func (c *OpenAIStreamConverter) handleThinking(events *[]Event, delta OpenAIChunkDelta) {
	if delta.Thinking != "" {
		if c.phase != phaseInThinking {
			c.closeOpenBlock(events)
			c.openIndex = c.allocateIndex()
			*events = append(*events, newContentBlockStart(c.openIndex, thinkingBlock{Type: "thinking"}))
			c.phase = phaseInThinking
		}
		*events = append(*events, newContentBlockDelta(c.openIndex, thinkingDelta{Type: "thinking_delta", Thinking: delta.Thinking}))
	}
	if delta.Signature != "" {
		if c.phase == phaseInThinking {
			*events = append(*events, newContentBlockDelta(c.openIndex, signatureDelta{Type: "signature_delta", Signature: delta.Signature}))
			c.closeOpenBlock(events)
		}
	}
}

func (c *OpenAIStreamConverter) handleText(events *[]Event, delta OpenAIChunkDelta) {
	if delta.Content == "" {
		return
	}
	if c.phase != phaseInText {
		c.closeOpenBlock(events)
		c.openIndex = c.allocateIndex()
		*events = append(*events, newContentBlockStart(c.openIndex, textBlock{Type: "text"}))
		c.phase = phaseInText
	}
	*events = append(*events, newContentBlockDelta(c.openIndex, textDelta{Type: "text_delta", Text: delta.Content}))
}

func (c *OpenAIStreamConverter) handleAnnotations(events *[]Event, delta OpenAIChunkDelta) {
	if len(delta.Annotations) == 0 {
		return
	}
	if c.phase == phaseInText {
		c.closeOpenBlock(events)
	}
	for _, ann := range delta.Annotations {
		idx := c.allocateIndex()
		*events = append(*events, newContentBlockStart(idx, webSearchResultBlock{
			Type:      "web_search_tool_result",
			ToolUseID: "srvtoolu_" + uuid.NewString(),
			Content: []webSearchResultEntry{{
				Type:  "web_search_result",
				URL:   ann.URL,
				Title: ann.Title,
			}},
		}))
		*events = append(*events, newContentBlockStop(idx))
	}
}

func (c *OpenAIStreamConverter) handleToolCalls(events *[]Event, delta OpenAIChunkDelta) {
	for _, tc := range delta.ToolCalls {
		idx := 0
		if tc.Index != nil {
			idx = *tc.Index
		}

		mapping, known := c.toolByOpenAIIndex[idx]
		if !known {
			if c.phase == phaseInText {
				c.closeOpenBlock(events)
			} else if c.phase == phaseInToolCall && c.openToolIndex != idx {
				c.closeOpenBlock(events)
			}

			id := tc.ID
			idSynth := id == ""
			if idSynth {
				id = "call_" + uuid.NewString()
			}
			name := tc.Function.Name
			nameSynth := name == ""
			if nameSynth {
				name = "tool_" + strconv.Itoa(idx)
			}

			contentIdx := c.allocateIndex()
			mapping = &toolMapping{contentIndex: contentIdx, id: id, name: name, idSynthesized: idSynth, nameSynthesized: nameSynth}
			c.toolByOpenAIIndex[idx] = mapping

			*events = append(*events, newContentBlockStart(contentIdx, toolUseBlock{
				Type:  "tool_use",
				ID:    id,
				Name:  name,
				Input: struct{}{},
			}))
			c.phase = phaseInToolCall
			c.openIndex = contentIdx
			c.openToolIndex = idx
			c.sawToolCalls = true
		} else {
			if tc.ID != "" && mapping.idSynthesized {
				mapping.id = tc.ID
				mapping.idSynthesized = false
			}
			if tc.Function.Name != "" && mapping.nameSynthesized {
				mapping.name = tc.Function.Name
				mapping.nameSynthesized = false
			}
		}

		if tc.Function.Arguments != "" {
			fragment := sanitizeJSONFragment(tc.Function.Arguments)
			if fragment != "" {
				*events = append(*events, newContentBlockDelta(mapping.contentIndex, inputJSONDelta{
					Type:        "input_json_delta",
					PartialJSON: fragment,
				}))
			}
		}
	}
}

func (c *OpenAIStreamConverter) handleFinish(events *[]Event, finishReason *string) {
	if finishReason == nil || c.finished {
		return
	}
	c.closeOpenBlock(events)
	stopReason := finishReasonToStopReason(*finishReason, c.sawToolCalls)
	*events = append(*events, newMessageDelta(stopReason, 0, 0))
	*events = append(*events, newMessageStop())
	c.phase = phaseFinished
	c.finished = true
}

// sanitizeJSONFragment strips control characters from a partial
// tool-call-argument fragment (spec §4.5: malformed fragments are
// sanitized, not validated — a fragment is, by definition, not valid JSON
// on its own).
func sanitizeJSONFragment(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if r < 0x20 {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
