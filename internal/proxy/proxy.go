// Package proxy implements the HTTP ingress, upstream dispatch, and
// response pipeline described in spec §4.3/§4.4: the Proxy Engine.
package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/florianilch/anthromux/internal/balancer"
	"github.com/florianilch/anthromux/internal/endpoint"
	"github.com/florianilch/anthromux/internal/transformer"
)

// maxUpstreamAttempts bounds dispatch to one original try plus one retry,
// per the "encode retry as a boolean, never recurse" design note (spec §9).
const maxUpstreamAttempts = 2

// defaultMaxBufferedBody caps the buffered response-pipeline branch (spec
// §5's backpressure note suggests 16 MiB as a sensible limit).
const defaultMaxBufferedBody = 16 << 20

// Options configures an Engine at construction time.
type Options struct {
	EnableTransform bool
	// EnableLoadBalance mirrors spec.md's ProxyMode.enableLoadBalance — it
	// does not change dispatch behavior (the selector always picks an
	// endpoint), only what the status query reports back (spec §6).
	EnableLoadBalance bool
	// Strategy is the active balancer.Strategy, reported verbatim in the
	// status query (spec §6).
	Strategy string
	// BanDuration is applied to MarkUnhealthy on every failure. Callers
	// pass 0 when periodic health probing is enabled — in that mode the
	// prober, not the ban, is the recovery path (spec §4.2).
	BanDuration time.Duration
	// ResponseHeaderTimeout bounds how long the shared transport waits for
	// upstream response headers; it deliberately does not bound the body,
	// so an SSE stream can run indefinitely once headers arrive.
	ResponseHeaderTimeout time.Duration
	// OutboundProxyURL tunnels outbound upstream requests through an
	// HTTP/HTTPS proxy when set (spec §4.3 point 5).
	OutboundProxyURL *url.URL
	MaxBufferedBody  int64
}

// Engine is the Proxy Engine: HTTP ingress, endpoint selection, request
// translation, upstream dispatch, and response handling.
type Engine struct {
	pool     *endpoint.Pool
	selector *balancer.Selector
	registry *transformer.Registry
	client   *http.Client
	opts     Options
	logger   *slog.Logger
}

// NewEngine wires a Proxy Engine over an already-constructed Pool,
// Selector, and transformer Registry — the registry is injected rather
// than held by reference back from the transformers, avoiding the
// Engine/Registry cycle the design notes call out (spec §9).
func NewEngine(pool *endpoint.Pool, selector *balancer.Selector, registry *transformer.Registry, opts Options, logger *slog.Logger) *Engine {
	if opts.ResponseHeaderTimeout <= 0 {
		opts.ResponseHeaderTimeout = 30 * time.Second
	}
	if opts.MaxBufferedBody <= 0 {
		opts.MaxBufferedBody = defaultMaxBufferedBody
	}
	if logger == nil {
		logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = opts.ResponseHeaderTimeout
	if opts.OutboundProxyURL != nil {
		transport.Proxy = http.ProxyURL(opts.OutboundProxyURL)
	}

	return &Engine{
		pool:     pool,
		selector: selector,
		registry: registry,
		client:   &http.Client{Transport: transport},
		opts:     opts,
		logger:   logger,
	}
}

// Handler returns the Engine's http.Handler: any path accepts POST/OPTIONS
// as the proxy route, plus a dedicated GET /status (spec §6).
func (e *Engine) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", e.handleStatus)
	mux.HandleFunc("/", e.handleProxy)
	return mux
}

func (e *Engine) handleProxy(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		writeCORSHeaders(w)
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeJSONError(r.Context(), w, errNotFound, "no handler for "+r.Method+" "+r.URL.Path, http.StatusNotFound)
		return
	}

	timing := &RequestTiming{StartTime: time.Now()}

	body, err := io.ReadAll(io.LimitReader(r.Body, e.opts.MaxBufferedBody+1))
	if err != nil {
		writeJSONError(r.Context(), w, errInternalError, "failed to read request body", http.StatusInternalServerError)
		return
	}
	if int64(len(body)) > e.opts.MaxBufferedBody {
		writeJSONError(r.Context(), w, errInvalidRequest, "request body exceeds the buffered size limit", http.StatusBadRequest)
		return
	}

	var parsed transformer.IntermediateRequest
	parseOK := json.Unmarshal(body, &parsed) == nil
	clientWantsStream := parseOK && parsed.Stream

	var firstEndpoint *endpoint.Endpoint
	var lastErr error
	// pending5xx holds the first attempt's 5xx response until it is known
	// whether a retry endpoint exists; with none, it is passed through.
	var pending5xx *http.Response

	for attempt := 0; attempt < maxUpstreamAttempts; attempt++ {
		var ep *endpoint.Endpoint
		if attempt == 0 {
			ep = e.selector.SelectNext()
		} else {
			ep = e.selector.SelectNextExcluding(firstEndpoint)
		}
		if ep == nil {
			if attempt == 0 {
				writeJSONError(r.Context(), w, errServiceUnavailable, "All endpoints are currently unavailable", http.StatusServiceUnavailable)
				return
			}
			if pending5xx != nil {
				e.passthroughUnchanged(w, pending5xx)
				return
			}
			timeout := isTimeoutErr(lastErr)
			writeJSONError(r.Context(), w, hopErrorType(timeout), upstreamErrMessage(lastErr), hopResponseStatus(timeout))
			return
		}
		if pending5xx != nil {
			pending5xx.Body.Close()
			pending5xx = nil
		}
		if attempt == 0 {
			firstEndpoint = ep
		}

		useTransformer := ep.Config.TransformerEnabled && e.opts.EnableTransform
		var tr transformer.Transformer
		if useTransformer {
			var ok bool
			tr, ok = e.resolveTransformer(ep)
			if !ok {
				writeJSONError(r.Context(), w, errTransformerError, "no transformer registered", http.StatusServiceUnavailable)
				return
			}
			if ep.Config.BaseURL == "" || ep.Config.APIKey == "" {
				writeJSONError(r.Context(), w, errTransformerError,
					fmt.Sprintf("endpoint %q is transformer-enabled but missing baseUrl/apiKey", ep.Config.Name),
					http.StatusServiceUnavailable)
				return
			}
		}

		upstreamReq, buildErr := e.buildUpstreamRequest(r, ep, tr, useTransformer, parsed, parseOK, body)
		if buildErr != nil {
			writeJSONError(r.Context(), w, errInvalidRequest, buildErr.Error(), http.StatusBadRequest)
			return
		}

		resp, err := e.client.Do(upstreamReq)
		if err != nil {
			lastErr = err
			ep.MarkUnhealthy(err.Error(), e.opts.BanDuration)
			if attempt == 0 {
				continue
			}
			timeout := isTimeoutErr(err)
			writeJSONError(r.Context(), w, hopErrorType(timeout), upstreamErrMessage(err), hopResponseStatus(timeout))
			return
		}

		timing.MarkFirstToken()

		if resp.StatusCode >= 500 {
			ep.MarkUnhealthy(fmt.Sprintf("upstream status %d", resp.StatusCode), e.opts.BanDuration)
			if attempt == 0 {
				pending5xx = resp
				continue
			}
			e.passthroughUnchanged(w, resp)
			return
		}

		ep.RecordResponseTime(timing.Duration())
		e.servePipeline(r.Context(), w, tr, useTransformer, clientWantsStream, resp)
		return
	}
}

func upstreamErrMessage(err error) string {
	if err == nil {
		return "upstream request failed"
	}
	return "upstream request failed: " + err.Error()
}

// resolveTransformer picks a transformer by the endpoint's configured
// hint, falling back to host-based discovery against its baseUrl (spec
// §4.3 point 3).
func (e *Engine) resolveTransformer(ep *endpoint.Endpoint) (transformer.Transformer, bool) {
	if ep.Config.Transformer != "" {
		if tr, ok := e.registry.ByName(ep.Config.Transformer); ok {
			return tr, true
		}
	}
	host := ep.Config.BaseURL
	if u, err := url.Parse(ep.Config.BaseURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return e.registry.ForHost(host)
}

// buildUpstreamRequest constructs the outbound *http.Request for one
// dispatch attempt: transformer-translated when the endpoint calls for
// it, or a verbatim forward otherwise (spec §4.3 point 4).
func (e *Engine) buildUpstreamRequest(r *http.Request, ep *endpoint.Endpoint, tr transformer.Transformer, useTransformer bool, parsed transformer.IntermediateRequest, parseOK bool, rawBody []byte) (*http.Request, error) {
	ctx := r.Context()

	if useTransformer {
		if !parseOK {
			return nil, fmt.Errorf("request body is not valid JSON")
		}
		epInfo := transformer.EndpointInfo{
			BaseURL: ep.Config.BaseURL,
			APIKey:  ep.Config.APIKey,
			Model:   ep.Config.Model,
			Headers: ep.Config.Headers,
		}
		dispatch, err := tr.NormalizeRequest(ctx, epInfo, parsed)
		if err != nil {
			return nil, err
		}
		formatted, err := tr.FormatRequest(ctx, epInfo, parsed)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, dispatch.URL, bytes.NewReader(formatted))
		if err != nil {
			return nil, err
		}
		for k, v := range dispatch.Headers {
			req.Header.Set(k, v)
		}
		for k, v := range ep.Config.Headers {
			req.Header.Set(k, v)
		}
		if ua := r.Header.Get("User-Agent"); ua != "" {
			req.Header.Set("User-Agent", ua)
		}
		req.ContentLength = int64(len(formatted))
		return req, nil
	}

	target := strings.TrimSuffix(ep.Config.BaseURL, "/") + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(rawBody))
	if err != nil {
		return nil, err
	}
	req.Header = buildUpstreamHeaders(r.Header, ep.Config.APIKey)
	for k, v := range ep.Config.Headers {
		req.Header.Set(k, v)
	}
	req.ContentLength = int64(len(rawBody))
	return req, nil
}

// passthroughUnchanged forwards an exhausted-retry upstream error response
// to the client unchanged (spec §7's UpstreamServerError handling: the
// body is proxied as-is, not wrapped in the taxonomized error shape).
func (e *Engine) passthroughUnchanged(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()
	dst := w.Header()
	for k, v := range cloneForwardableHeaders(resp.Header) {
		dst[k] = v
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		e.logger.Warn("passthrough copy failed", "error", err)
	}
}

func isSSEResponse(contentType string) bool {
	return strings.Contains(contentType, "text/event-stream")
}
