package transformer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// GeminiTransformer adapts Anthropic-shaped requests to Google's
// generativelanguage API (spec §4.6): role remapping, parts[] collapsing,
// functionDeclarations schema pruning, and candidates→OpenAI-shape
// response rewriting (which universal normalization then turns Anthropic).
type GeminiTransformer struct{}

var _ Transformer = GeminiTransformer{}

func (GeminiTransformer) Name() string    { return "gemini" }
func (GeminiTransformer) Domain() string  { return "generativelanguage.googleapis.com" }
func (GeminiTransformer) IsDefault() bool { return false }

func (GeminiTransformer) NormalizeRequest(_ context.Context, ep EndpointInfo, req IntermediateRequest) (DispatchConfig, error) {
	base := ep.BaseURL
	if base == "" {
		base = "https://generativelanguage.googleapis.com"
	}
	model := req.Model
	if model == "" {
		model = ep.Model
	}
	method := "generateContent"
	suffix := ""
	if req.Stream {
		method = "streamGenerateContent"
		suffix = "?alt=sse"
	}
	return DispatchConfig{
		URL: fmt.Sprintf("%s/v1beta/models/%s:%s%s", base, model, method, suffix),
		Headers: map[string]string{
			"x-goog-api-key": ep.APIKey,
			"Content-Type":   "application/json",
		},
	}, nil
}

// geminiRequest is the native Gemini generateContent request shape.
type geminiRequest struct {
	Contents         []geminiContent    `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	Tools            []geminiTool       `json:"tools,omitempty"`
	GenerationConfig *geminiGenConfig   `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *geminiBlob     `json:"inlineData,omitempty"`
	FileData   *geminiFileData `json:"fileData,omitempty"`
}

type geminiBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiGenConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// geminiParamWhitelist is the set of JSON-schema keys Gemini's function
// declaration parser accepts; anything else is pruned before dispatch
// (spec §4.6).
var geminiParamWhitelist = map[string]bool{
	"type": true, "format": true, "title": true, "description": true,
	"nullable": true, "enum": true, "properties": true, "items": true,
	"required": true, "minimum": true, "maximum": true,
}

// FormatRequest re-maps roles (assistant→model, others→user), collapses
// content into parts[], and translates tools to functionDeclarations.
func (GeminiTransformer) FormatRequest(_ context.Context, _ EndpointInfo, req IntermediateRequest) ([]byte, error) {
	out := geminiRequest{}

	if len(req.System) > 0 {
		var sysText string
		if err := json.Unmarshal(req.System, &sysText); err == nil && sysText != "" {
			out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: sysText}}}
		}
	}

	for _, msg := range req.Messages {
		content, err := messageToGemini(msg)
		if err != nil {
			return nil, fmt.Errorf("gemini transform message: %w", err)
		}
		if len(content.Parts) > 0 {
			out.Contents = append(out.Contents, content)
		}
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, geminiTool{FunctionDeclarations: []geminiFunctionDecl{{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  pruneGeminiSchema(tool.InputSchema),
		}}})
	}

	genConfig := &geminiGenConfig{
		MaxOutputTokens: req.MaxTokens,
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		StopSequences:   req.StopSequences,
	}
	out.GenerationConfig = genConfig

	return json.Marshal(out)
}

func geminiRole(anthropicRole string) string {
	if anthropicRole == "assistant" {
		return "model"
	}
	return "user"
}

func messageToGemini(msg Message) (geminiContent, error) {
	blocks, err := msg.ContentBlocks()
	if err != nil {
		return geminiContent{}, err
	}

	content := geminiContent{Role: geminiRole(msg.Role)}
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				content.Parts = append(content.Parts, geminiPart{Text: b.Text})
			}
		case "tool_result":
			content.Parts = append(content.Parts, geminiPart{Text: contentBlockResultText(b.Content)})
		case "image":
			if b.Source != nil && b.Source.Type == "base64" {
				content.Parts = append(content.Parts, geminiPart{InlineData: &geminiBlob{
					MimeType: b.Source.MediaType,
					Data:     b.Source.Data,
				}})
			}
		}
	}
	return content, nil
}

// pruneGeminiSchema strips JSON-schema keys Gemini's function-declaration
// parser rejects, recursively, keeping only the whitelisted keys (spec
// §4.6).
func pruneGeminiSchema(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return raw
	}
	pruned := pruneSchemaValue(decoded)
	out, err := json.Marshal(pruned)
	if err != nil {
		return raw
	}
	return out
}

func pruneSchemaValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if !geminiParamWhitelist[k] {
				continue
			}
			out[k] = pruneSchemaValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = pruneSchemaValue(inner)
		}
		return out
	default:
		return v
	}
}

// geminiResponse is the native Gemini generateContent response shape.
type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
	UsageMetadata geminiUsage    `json:"usageMetadata"`
	ModelVersion string          `json:"modelVersion,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

// FormatResponse rewrites a Gemini candidates response into
// OpenAI-chat-completions shape, so universal normalization (which only
// knows OpenAI and Anthropic shapes) can take it from there. Non-JSON or
// non-Gemini-shaped bodies pass through unchanged.
func (GeminiTransformer) FormatResponse(_ context.Context, resp UpstreamResponse) (UpstreamResponse, error) {
	if isSSEContentType(resp.Header.Get("Content-Type")) {
		return resp, nil // streaming goes through GeminiStreamDecoder instead
	}

	var gr geminiResponse
	if err := json.Unmarshal(resp.Body, &gr); err != nil || len(gr.Candidates) == 0 {
		return resp, nil
	}

	candidate := gr.Candidates[0]
	var text strings.Builder
	for _, p := range candidate.Content.Parts {
		text.WriteString(p.Text)
	}

	converted := OpenAIChatResponse{
		Object: "chat.completion",
		Model:  gr.ModelVersion,
		Choices: []OpenAIChatChoice{{
			Message:      OpenAIMessage{Role: "assistant", Content: text.String()},
			FinishReason: geminiFinishReasonToOpenAI(candidate.FinishReason),
		}},
		Usage: OpenAIUsage{
			PromptTokens:     gr.UsageMetadata.PromptTokenCount,
			CompletionTokens: gr.UsageMetadata.CandidatesTokenCount,
		},
	}

	body, err := json.Marshal(converted)
	if err != nil {
		return resp, nil
	}
	resp.Body = body
	return resp, nil
}

func geminiFinishReasonToOpenAI(reason string) string {
	switch strings.ToUpper(reason) {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	default:
		return "stop"
	}
}

// StreamDecoder returns nil: Gemini's SSE frames are full
// generateContent-shaped candidates per chunk, not OpenAI deltas, and
// spec §4.6 describes only the buffered formatResponse mapping for
// Gemini. A streaming Gemini endpoint falls back to the response
// pipeline's buffer-then-convert path (spec §4.4) rather than true
// incremental translation.
func (GeminiTransformer) StreamDecoder() StreamDecoder {
	return nil
}
