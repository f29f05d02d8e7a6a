package transformer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// OpenRouterTransformer adapts Anthropic-shaped requests to OpenRouter's
// OpenAI-compatible chat-completions API, with OpenRouter-specific
// post-processing: a data-URL pass over image_url parts (see
// FormatRequest for what it covers) and reasoning-aware streaming.
type OpenRouterTransformer struct{}

var _ Transformer = OpenRouterTransformer{}

func (OpenRouterTransformer) Name() string    { return "openrouter" }
func (OpenRouterTransformer) Domain() string  { return "openrouter.ai" }
func (OpenRouterTransformer) IsDefault() bool { return false }

func (OpenRouterTransformer) NormalizeRequest(_ context.Context, ep EndpointInfo, _ IntermediateRequest) (DispatchConfig, error) {
	base := ep.BaseURL
	if base == "" {
		base = "https://openrouter.ai/api"
	}
	return DispatchConfig{
		URL: base + "/v1/chat/completions",
		Headers: map[string]string{
			"Authorization": "Bearer " + ep.APIKey,
			"Content-Type":  "application/json",
		},
	}, nil
}

// FormatRequest builds the OpenAI-shaped body with ToOpenAIRequest, then
// runs inlineImages over it. ToOpenAIRequest carries no cache_control
// field for any model, and it projects message content as plain text:
// Anthropic image blocks are not turned into image_url parts, so the
// request body carries no images and inlineImages finds nothing to rewrite.
func (OpenRouterTransformer) FormatRequest(_ context.Context, ep EndpointInfo, req IntermediateRequest) ([]byte, error) {
	if req.Model == "" {
		req.Model = ep.Model
	}
	if req.Model == "" {
		return nil, fmt.Errorf("openrouter transformer: endpoint %q has no model configured", ep.BaseURL)
	}

	// cache_control is an Anthropic content-block annotation; ToOpenAIRequest
	// never copies it into the OpenAI shape, so non-claude models never see
	// it regardless — nothing further to strip here.
	out, err := ToOpenAIRequest(req)
	if err != nil {
		return nil, err
	}

	inlineImages(&out, req)

	return json.Marshal(out)
}

// inlineImages rewrites image_url content parts that aren't already
// http(s) references into data URLs, using the originating Anthropic
// image block's media type and base64 data. It only acts on messages whose
// Content is a []OpenAIContentPart; ToOpenAIRequest produces none.
func inlineImages(out *OpenAIChatRequest, req IntermediateRequest) {
	type imageData struct {
		mediaType string
		data      string
	}
	var images []imageData
	for _, msg := range req.Messages {
		blocks, err := msg.ContentBlocks()
		if err != nil {
			continue
		}
		for _, b := range blocks {
			if b.Type == "image" && b.Source != nil && b.Source.Type == "base64" {
				images = append(images, imageData{mediaType: b.Source.MediaType, data: b.Source.Data})
			}
		}
	}
	if len(images) == 0 {
		return
	}

	imgIdx := 0
	for mi := range out.Messages {
		parts, ok := out.Messages[mi].Content.([]OpenAIContentPart)
		if !ok {
			continue
		}
		for pi := range parts {
			if parts[pi].Type != "image_url" || parts[pi].ImageURL == nil {
				continue
			}
			if strings.HasPrefix(parts[pi].ImageURL.URL, "http") {
				continue
			}
			if imgIdx >= len(images) {
				continue
			}
			img := images[imgIdx]
			imgIdx++
			parts[pi].ImageURL.URL = "data:" + img.mediaType + ";base64," + img.data
		}
	}
}

// FormatResponse passes buffered JSON through unchanged; universal
// normalization handles OpenAI→Anthropic conversion.
func (OpenRouterTransformer) FormatResponse(_ context.Context, resp UpstreamResponse) (UpstreamResponse, error) {
	return resp, nil
}

// StreamDecoder returns OpenRouter's reasoning-aware converter.
func (OpenRouterTransformer) StreamDecoder() StreamDecoder {
	return &openRouterStreamConverter{inner: NewOpenAIStreamConverter()}
}

// openRouterStreamConverter wraps the base OpenAI converter with
// OpenRouter-specific frame rewriting (spec §4.6): reasoning deltas are
// re-tagged as thinking before reaching the shared state machine,
// non-numeric tool-call ids are rewritten to call_<uuid>, and
// finish_reason is forced to tool_calls whenever any tool call was
// observed in the stream.
type openRouterStreamConverter struct {
	inner        *OpenAIStreamConverter
	sawToolCalls bool
}

var _ StreamDecoder = (*openRouterStreamConverter)(nil)

type openRouterChunk struct {
	ID      string                     `json:"id"`
	Model   string                     `json:"model"`
	Choices []openRouterChunkChoice    `json:"choices"`
}

type openRouterChunkChoice struct {
	Index        int                  `json:"index"`
	Delta        openRouterChunkDelta `json:"delta"`
	FinishReason *string              `json:"finish_reason"`
}

type openRouterChunkDelta struct {
	Role        string             `json:"role,omitempty"`
	Content     string             `json:"content,omitempty"`
	Reasoning   string             `json:"reasoning,omitempty"`
	Signature   string             `json:"signature,omitempty"`
	Annotations []OpenAIAnnotation `json:"annotations,omitempty"`
	ToolCalls   []OpenAIToolCall   `json:"tool_calls,omitempty"`
}

func (c *openRouterStreamConverter) DecodeFrame(ctx context.Context, payload []byte) ([]Event, error) {
	var raw openRouterChunk
	if err := json.Unmarshal(payload, &raw); err != nil {
		return c.inner.DecodeFrame(ctx, payload) // let the base converter's own [DONE]/malformed handling apply
	}

	rewritten := OpenAIChatChunk{ID: raw.ID, Model: raw.Model}
	for _, ch := range raw.Choices {
		for i := range ch.Delta.ToolCalls {
			tc := &ch.Delta.ToolCalls[i]
			if tc.ID != "" {
				if _, err := strconv.Atoi(tc.ID); err != nil {
					tc.ID = "call_" + uuid.NewString()
				}
			}
		}
		if len(ch.Delta.ToolCalls) > 0 {
			c.sawToolCalls = true
		}

		finishReason := ch.FinishReason
		if c.sawToolCalls && finishReason != nil {
			forced := "tool_calls"
			finishReason = &forced
		}

		rewritten.Choices = append(rewritten.Choices, OpenAIChatChunkChoice{
			Index: ch.Index,
			Delta: OpenAIChunkDelta{
				Role:        ch.Delta.Role,
				Content:     ch.Delta.Content,
				Thinking:    ch.Delta.Reasoning,
				Signature:   ch.Delta.Signature,
				Annotations: ch.Delta.Annotations,
				ToolCalls:   ch.Delta.ToolCalls,
			},
			FinishReason: finishReason,
		})
	}

	reencoded, err := json.Marshal(rewritten)
	if err != nil {
		return nil, err
	}
	return c.inner.DecodeFrame(ctx, reencoded)
}
