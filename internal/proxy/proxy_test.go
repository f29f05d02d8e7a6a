package proxy

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/florianilch/anthromux/internal/balancer"
	"github.com/florianilch/anthromux/internal/endpoint"
	"github.com/florianilch/anthromux/internal/transformer"
)

// healthyPool builds a Pool from cfgs with every endpoint pre-marked
// healthy, since a freshly-constructed Endpoint starts unselectable until
// a probe or request outcome settles it (spec §4.1) — tests that don't
// exercise that settling themselves need to do it up front.
func healthyPool(cfgs ...endpoint.Config) *endpoint.Pool {
	pool := endpoint.NewPool(cfgs)
	for _, ep := range pool.All() {
		ep.MarkHealthy()
	}
	return pool
}

func newTestEngine(t *testing.T, pool *endpoint.Pool, strategy balancer.Strategy, opts Options) *Engine {
	t.Helper()
	selector := balancer.NewSelector(pool, strategy, balancer.SpeedFirstConfig{})
	registry := transformer.NewRegistry(transformer.OpenAITransformer{}, transformer.OpenRouterTransformer{}, transformer.GeminiTransformer{})
	return NewEngine(pool, selector, registry, opts, nil)
}

func anthropicRequestBody(stream bool) []byte {
	body, _ := json.Marshal(transformer.IntermediateRequest{
		Model:     "claude-3-haiku",
		Messages:  []transformer.Message{{Role: "user", Content: json.RawMessage(`"hi"`)}},
		MaxTokens: 64,
		Stream:    stream,
	})
	return body
}

func doProxyRequest(t *testing.T, e *Engine, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, req)
	return rec
}

// --- P7: retry uniqueness -------------------------------------------------

// TestRetryNeverReselectsFailedEndpoint exercises spec §8 scenario 2: A
// fails, the retry lands on a different endpoint, and there is never a
// second retry beyond that.
func TestRetryNeverReselectsFailedEndpoint(t *testing.T) {
	var hitsA, hitsB int
	upstreamA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitsA++
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer upstreamA.Close()

	upstreamB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitsB++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","content":[{"type":"text","text":"hi from b"}],"usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer upstreamB.Close()

	pool := healthyPool(
		endpoint.Config{Name: "a", BaseURL: upstreamA.URL, APIKey: "key-a", Enabled: true, Order: 1},
		endpoint.Config{Name: "b", BaseURL: upstreamB.URL, APIKey: "key-b", Enabled: true, Order: 1},
	)
	e := newTestEngine(t, pool, balancer.Polling, Options{})

	rec := doProxyRequest(t, e, anthropicRequestBody(false))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if hitsA != 1 {
		t.Errorf("endpoint a hit %d times, want exactly 1 (no second retry lands back on it)", hitsA)
	}
	if hitsB != 1 {
		t.Errorf("endpoint b hit %d times, want exactly 1", hitsB)
	}
	epA, _ := pool.ByName("a")
	if epA.Snapshot().IsHealthy {
		t.Errorf("endpoint a should be marked unhealthy after its 500")
	}
}

// TestRetryExhaustedPassesThroughUnchanged covers the tail of the same
// reconciliation: once both attempts land on 5xx endpoints, the second
// failure is proxied to the client unchanged rather than taxonomized.
func TestRetryExhaustedPassesThroughUnchanged(t *testing.T) {
	body := []byte(`{"upstream":"both down"}`)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		w.Write(body)
	}))
	defer upstream.Close()

	pool := healthyPool(
		endpoint.Config{Name: "a", BaseURL: upstream.URL, APIKey: "key-a", Enabled: true, Order: 1},
		endpoint.Config{Name: "b", BaseURL: upstream.URL, APIKey: "key-b", Enabled: true, Order: 1},
	)
	e := newTestEngine(t, pool, balancer.Polling, Options{})

	rec := doProxyRequest(t, e, anthropicRequestBody(false))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502 (passed through unchanged)", rec.Code)
	}
	if rec.Body.String() != string(body) {
		t.Errorf("body = %q, want unchanged upstream body %q", rec.Body.String(), body)
	}
}

// TestSingleEndpointNoRetryLoop ensures a pool of one never attempts a
// second dispatch against the same endpoint.
func TestSingleEndpointNoRetryLoop(t *testing.T) {
	var hits int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	pool := healthyPool(endpoint.Config{Name: "solo", BaseURL: upstream.URL, APIKey: "k", Enabled: true})
	e := newTestEngine(t, pool, balancer.Fallback, Options{})

	rec := doProxyRequest(t, e, anthropicRequestBody(false))

	if hits != 1 {
		t.Errorf("hits = %d, want 1 (excluding the only endpoint leaves nothing to retry)", hits)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 passed through", rec.Code)
	}
}

// --- P8: header hygiene ----------------------------------------------------

func TestHeaderHygiene_VerbatimForward(t *testing.T) {
	var gotHeaders http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Connection", "close")
		w.Header().Set("Transfer-Encoding", "chunked")
		w.Write([]byte(`{"id":"m","type":"message","role":"assistant","content":[],"usage":{}}`))
	}))
	defer upstream.Close()

	pool := healthyPool(endpoint.Config{Name: "a", BaseURL: upstream.URL, APIKey: "upstream-key", Enabled: true})
	e := newTestEngine(t, pool, balancer.Polling, Options{})

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(anthropicRequestBody(false)))
	req.Header.Set("Authorization", "Bearer client-side-secret")
	req.Header.Set("X-Api-Key", "client-side-key")
	req.Header.Set("Connection", "keep-alive")
	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, req)

	if gotHeaders.Get("Authorization") != "" {
		t.Errorf("Authorization leaked upstream: %q", gotHeaders.Get("Authorization"))
	}
	if got := gotHeaders.Get("X-Api-Key"); got != "upstream-key" {
		t.Errorf("X-Api-Key = %q, want endpoint's own key, not the client's", got)
	}
	if gotHeaders.Get("Connection") != "" {
		t.Errorf("Connection header forwarded upstream: %q", gotHeaders.Get("Connection"))
	}

	for _, h := range []string{"Connection", "Transfer-Encoding"} {
		if v := rec.Header().Get(h); v != "" {
			t.Errorf("hop-by-hop header %s leaked to client: %q", h, v)
		}
	}
}

func TestHeaderHygiene_TransformerPath(t *testing.T) {
	var gotAuth, gotAPIKey string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAPIKey = r.Header.Get("X-Api-Key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`))
	}))
	defer upstream.Close()

	pool := healthyPool(endpoint.Config{
		Name: "oa", BaseURL: upstream.URL, APIKey: "sk-upstream", Enabled: true,
		TransformerEnabled: true, Transformer: "openai",
	})
	e := newTestEngine(t, pool, balancer.Polling, Options{EnableTransform: true})

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(anthropicRequestBody(false)))
	req.Header.Set("Authorization", "Bearer client-side-secret")
	req.Header.Set("X-Api-Key", "client-side-key")
	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, req)

	if gotAuth != "Bearer sk-upstream" {
		t.Errorf("Authorization = %q, want the endpoint's own bearer token", gotAuth)
	}
	if gotAPIKey != "" {
		t.Errorf("X-Api-Key leaked into transformer-built request: %q", gotAPIKey)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

// --- Integration scenarios (spec §8) --------------------------------------

// jsonUpstream returns a test server replying with a fixed Anthropic-shaped
// body and tracking how many times it was invoked.
func jsonUpstream(t *testing.T, body string) (*httptest.Server, *int) {
	t.Helper()
	count := new(int)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*count++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	return srv, count
}

// TestScenario1_PollingDistributes: spec §8 scenario 1 — with Polling and
// N healthy endpoints, consecutive requests visit each endpoint once before
// repeating.
func TestScenario1_PollingDistributes(t *testing.T) {
	okBody := `{"id":"m","type":"message","role":"assistant","content":[{"type":"text","text":"ok"}],"usage":{"input_tokens":1,"output_tokens":1}}`
	srvA, hitsA := jsonUpstream(t, okBody)
	defer srvA.Close()
	srvB, hitsB := jsonUpstream(t, okBody)
	defer srvB.Close()

	pool := healthyPool(
		endpoint.Config{Name: "a", BaseURL: srvA.URL, APIKey: "ka", Enabled: true},
		endpoint.Config{Name: "b", BaseURL: srvB.URL, APIKey: "kb", Enabled: true},
	)
	e := newTestEngine(t, pool, balancer.Polling, Options{})

	for i := 0; i < 4; i++ {
		rec := doProxyRequest(t, e, anthropicRequestBody(false))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}

	if *hitsA != 2 || *hitsB != 2 {
		t.Errorf("hits a=%d b=%d, want 2/2 for round-robin over 4 requests", *hitsA, *hitsB)
	}
}

// TestScenario5_AllEndpointsDown: spec §8 scenario 5 — no selectable
// endpoint yields 503 service_unavailable without dialing anything.
func TestScenario5_AllEndpointsDown(t *testing.T) {
	pool := endpoint.NewPool([]endpoint.Config{
		{Name: "a", BaseURL: "http://127.0.0.1:1", APIKey: "k", Enabled: true},
	})
	// Deliberately not marked healthy: a fresh endpoint starts unselectable.
	e := newTestEngine(t, pool, balancer.Polling, Options{})

	rec := doProxyRequest(t, e, anthropicRequestBody(false))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("error body not JSON: %v", err)
	}
	if errResp.Error.Type != errServiceUnavailable {
		t.Errorf("error type = %q, want %q", errResp.Error.Type, errServiceUnavailable)
	}
}

// TestScenario6_BanExpiryRecovers: spec §8 scenario 6 — an endpoint banned
// after a failure becomes selectable again once BannedUntil has passed.
func TestScenario6_BanExpiryRecovers(t *testing.T) {
	okBody := `{"id":"m","type":"message","role":"assistant","content":[{"type":"text","text":"ok"}],"usage":{"input_tokens":1,"output_tokens":1}}`
	srv, hits := jsonUpstream(t, okBody)
	defer srv.Close()

	cfg := endpoint.Config{Name: "a", BaseURL: srv.URL, APIKey: "k", Enabled: true}
	pool := endpoint.NewPool([]endpoint.Config{cfg})
	ep, _ := pool.ByName("a")
	ep.MarkUnhealthy("probe failed", 20*time.Millisecond)

	selector := balancer.NewSelector(pool, balancer.Polling, balancer.SpeedFirstConfig{})
	if got := selector.SelectNext(); got != nil {
		t.Fatalf("endpoint selectable while still banned")
	}

	time.Sleep(30 * time.Millisecond)

	e := NewEngine(pool, selector, transformer.NewRegistry(transformer.OpenAITransformer{}), Options{}, nil)
	rec := doProxyRequest(t, e, anthropicRequestBody(false))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d after ban expiry, want 200", rec.Code)
	}
	if *hits != 1 {
		t.Errorf("hits = %d, want 1", *hits)
	}
	if !ep.Snapshot().IsHealthy {
		t.Errorf("endpoint should be healthy again after a successful post-ban request")
	}
}

// --- universal normalization / empty body ----------------------------------

func TestEmptyUpstreamBodyYieldsEmptyResponseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pool := healthyPool(endpoint.Config{Name: "a", BaseURL: srv.URL, APIKey: "k", Enabled: true})
	e := newTestEngine(t, pool, balancer.Polling, Options{})

	rec := doProxyRequest(t, e, anthropicRequestBody(false))

	var errResp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("body not JSON: %v, body=%s", err, rec.Body.String())
	}
	if errResp.Error.Type != errEmptyResponse {
		t.Errorf("error type = %q, want %q", errResp.Error.Type, errEmptyResponse)
	}
}

// --- status query ------------------------------------------------------

func TestStatusEndpoint(t *testing.T) {
	pool := healthyPool(
		endpoint.Config{Name: "a", BaseURL: "http://example.invalid", APIKey: "k", Enabled: true},
	)
	e := newTestEngine(t, pool, balancer.Fallback, Options{})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var status StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if status.Total != 1 || status.Healthy != 1 {
		t.Errorf("status = %+v, want total=1 healthy=1", status)
	}
}
