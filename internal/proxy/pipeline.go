package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"syscall"

	"github.com/florianilch/anthromux/internal/transformer"
)

// servePipeline is the Response Pipeline (spec §4.4): it branches on the
// upstream Content-Type, applies transformer formatResponse/stream
// decoding, runs universal normalization, and writes the client response.
func (e *Engine) servePipeline(ctx context.Context, w http.ResponseWriter, tr transformer.Transformer, useTransformer, clientWantsStream bool, resp *http.Response) {
	defer resp.Body.Close()
	contentType := resp.Header.Get("Content-Type")

	if isSSEResponse(contentType) {
		e.serveStreamingResponse(ctx, w, tr, useTransformer, clientWantsStream, resp)
		return
	}

	e.serveBufferedResponse(ctx, w, tr, useTransformer, clientWantsStream, resp)
}

func (e *Engine) serveStreamingResponse(ctx context.Context, w http.ResponseWriter, tr transformer.Transformer, useTransformer, clientWantsStream bool, resp *http.Response) {
	if !useTransformer {
		// Already Anthropic-shaped SSE (a native Anthropic upstream): copy
		// live, no translation needed.
		writeCORSHeaders(w)
		if err := copyStreamRaw(w, resp.Body); err != nil {
			e.logger.Warn("raw stream copy failed", "error", err)
		}
		return
	}

	decoder := tr.StreamDecoder()
	if decoder == nil {
		// This provider's stream isn't incrementally convertible (e.g.
		// Gemini); fall back to buffering the whole thing and converting
		// the assembled body, per DESIGN.md's recorded decision.
		raw, err := io.ReadAll(io.LimitReader(resp.Body, e.opts.MaxBufferedBody))
		if err != nil {
			writeJSONError(ctx, w, errUpstreamError, "failed to read upstream stream", http.StatusBadGateway)
			return
		}
		e.finishBufferedBody(ctx, w, tr, useTransformer, clientWantsStream, resp.StatusCode, resp.Header, raw)
		return
	}

	if clientWantsStream {
		writeCORSHeaders(w)
		if err := streamLiveTransformed(ctx, w, resp.Body, decoder, nil); err != nil {
			e.logger.Warn("stream conversion failed", "error", err)
		}
		return
	}

	events, err := drainTransformedEvents(ctx, resp.Body, decoder)
	if err != nil {
		writeJSONError(ctx, w, errUpstreamError, "failed to read upstream stream", http.StatusBadGateway)
		return
	}
	assembled := assembleFromEvents(events)
	writeCORSHeaders(w)
	writeJSON(ctx, w, assembled, http.StatusOK)
}

func (e *Engine) serveBufferedResponse(ctx context.Context, w http.ResponseWriter, tr transformer.Transformer, useTransformer, clientWantsStream bool, resp *http.Response) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, e.opts.MaxBufferedBody))
	if err != nil {
		writeJSONError(ctx, w, errUpstreamError, "failed to read upstream response", http.StatusBadGateway)
		return
	}
	e.finishBufferedBody(ctx, w, tr, useTransformer, clientWantsStream, resp.StatusCode, resp.Header, raw)
}

// finishBufferedBody applies transformer.FormatResponse (if in play) and
// universal normalization to a fully-read body, then writes the client
// response — shared by the plain-buffered branch and the
// stream-isn't-incrementally-convertible fallback above.
func (e *Engine) finishBufferedBody(ctx context.Context, w http.ResponseWriter, tr transformer.Transformer, useTransformer, clientWantsStream bool, status int, header http.Header, raw []byte) {
	if useTransformer && tr != nil {
		formatted, err := tr.FormatResponse(ctx, transformer.UpstreamResponse{StatusCode: status, Header: header, Body: raw})
		if err == nil {
			raw = formatted.Body
		}
		// TransformerError: fall back to normalizing the original body
		// (spec §7) — raw is left as-is when FormatResponse fails.
	}

	result := normalizeBuffered(raw)

	if useTransformer {
		writeCORSHeaders(w)
	}

	if result.Error != nil {
		writeJSON(ctx, w, ErrorResponse{Error: *result.Error}, status)
		return
	}

	if clientWantsStream {
		if err := promoteToSSE(w, result.Body); err != nil {
			e.logger.Warn("promote-to-SSE failed", "error", err)
		}
		return
	}

	writeJSON(ctx, w, result.Body, status)
}

// copyStreamRaw forwards an already-Anthropic-shaped SSE body byte for
// byte, flushing after every write so the client sees it live.
func copyStreamRaw(w http.ResponseWriter, r io.Reader) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// writeCORSHeaders sets the permissive CORS headers spec §4.3/§6 require
// on OPTIONS preflight and on transformer-routed responses.
func writeCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, x-api-key")
	h.Set("Access-Control-Max-Age", "86400")
}

// streamLiveTransformed decodes upstream SSE frames one at a time and
// writes the translated Anthropic frames to the client as they arrive —
// the true streaming branch of spec §4.4/§4.5.
func streamLiveTransformed(ctx context.Context, w http.ResponseWriter, upstream io.Reader, decoder transformer.StreamDecoder, onFirstByte func()) error {
	sse, err := NewSSEWriter(w)
	if err != nil {
		return err
	}

	first := true
	return transformer.ReadSSEFrames(upstream, func(payload []byte) error {
		if ctx.Err() != nil {
			return nil // client disconnected, stop writing but don't treat it as a transport error
		}
		if first {
			first = false
			if onFirstByte != nil {
				onFirstByte()
			}
		}
		events, err := decoder.DecodeFrame(ctx, payload)
		if err != nil {
			return nil // StreamDecodeError: drop the frame, stream continues
		}
		for _, ev := range events {
			if werr := sse.WriteEvent(ev.Name, ev.Payload); werr != nil {
				if isClientGone(ctx, werr) {
					return nil // client gone mid-write: absorbed silently
				}
				return werr
			}
		}
		return nil
	})
}

// isClientGone reports whether an SSE write failure is just the client
// having disconnected mid-stream rather than a real transport error — the
// request context is canceled the moment net/http notices the client is
// gone, the same signal the teacher checks before every chunk write.
func isClientGone(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, syscall.EPIPE)
}

// drainTransformedEvents consumes an entire upstream SSE stream through
// decoder and returns every Anthropic event it produced — used when the
// client asked for a buffered (stream:false) response but the upstream
// answered with SSE anyway (spec §4.4).
func drainTransformedEvents(ctx context.Context, upstream io.Reader, decoder transformer.StreamDecoder) ([]transformer.Event, error) {
	var all []transformer.Event
	err := transformer.ReadSSEFrames(upstream, func(payload []byte) error {
		events, err := decoder.DecodeFrame(ctx, payload)
		if err != nil {
			return nil
		}
		all = append(all, events...)
		return nil
	})
	return all, err
}

// eventEnvelope is the generic shape every outgoing Anthropic SSE payload
// shares, used only to re-read a transformer.Event's JSON-tagged fields
// from package proxy (the concrete payload structs are unexported inside
// package transformer).
type eventEnvelope struct {
	Type         string          `json:"type"`
	Index        int             `json:"index"`
	ContentBlock json.RawMessage `json:"content_block"`
	Delta        json.RawMessage `json:"delta"`
	Usage        json.RawMessage `json:"usage"`
}

// assembleFromEvents reconstructs a single Anthropic message response from
// a fully-drained event sequence, for the buffered-promotion path above.
func assembleFromEvents(events []transformer.Event) transformer.AnthropicResponse {
	resp := transformer.AnthropicResponse{Type: "message", Role: "assistant"}
	texts := make(map[int]*string)
	blocks := make(map[int]*transformer.AnthropicRespBlock)
	var order []int

	ensure := func(idx int, kind string) *transformer.AnthropicRespBlock {
		if b, ok := blocks[idx]; ok {
			return b
		}
		b := &transformer.AnthropicRespBlock{Type: kind}
		blocks[idx] = b
		order = append(order, idx)
		return b
	}

	for _, ev := range events {
		raw, _ := json.Marshal(ev.Payload)
		var env eventEnvelope
		_ = json.Unmarshal(raw, &env)

		switch ev.Name {
		case "content_block_start":
			var block struct {
				Type string `json:"type"`
				ID   string `json:"id"`
				Name string `json:"name"`
			}
			_ = json.Unmarshal(env.ContentBlock, &block)
			b := ensure(env.Index, block.Type)
			b.ID = block.ID
			b.Name = block.Name
			if block.Type == "text" {
				empty := ""
				texts[env.Index] = &empty
			}
		case "content_block_delta":
			var delta struct {
				Type        string `json:"type"`
				Text        string `json:"text"`
				PartialJSON string `json:"partial_json"`
			}
			_ = json.Unmarshal(env.Delta, &delta)
			if t, ok := texts[env.Index]; ok && delta.Text != "" {
				*t += delta.Text
			}
			if delta.PartialJSON != "" {
				if b, ok := blocks[env.Index]; ok {
					b.Input = json.RawMessage(string(b.Input) + delta.PartialJSON)
				}
			}
		case "message_delta":
			var d struct {
				Delta struct {
					StopReason string `json:"stop_reason"`
				} `json:"delta"`
				Usage transformer.AnthropicUsage `json:"usage"`
			}
			_ = json.Unmarshal(raw, &d)
			resp.StopReason = d.Delta.StopReason
			resp.Usage = d.Usage
		case "message_start":
			var m struct {
				Message struct {
					ID    string `json:"id"`
					Model string `json:"model"`
				} `json:"message"`
			}
			_ = json.Unmarshal(raw, &m)
			resp.ID = m.Message.ID
			resp.Model = m.Message.Model
		}
	}

	for _, idx := range order {
		b := blocks[idx]
		if t, ok := texts[idx]; ok {
			b.Text = *t
		}
		resp.Content = append(resp.Content, *b)
	}
	return resp
}

// promoteToSSE emits a buffered JSON body as a single SSE frame followed by
// the OpenAI-style [DONE] terminator (spec §4.4) — used when the client
// requested streaming but the response pipeline ended up with a fully
// buffered body.
func promoteToSSE(w http.ResponseWriter, body any) error {
	sse, err := NewSSEWriter(w)
	if err != nil {
		return err
	}
	if err := sse.WriteData(body); err != nil {
		return err
	}
	return sse.WriteRaw("[DONE]")
}
