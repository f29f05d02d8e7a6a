package transformer

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// UpstreamResponse is the synthetic Response formatResponse receives for
// the buffered branch: a fully-read body plus the status and headers the
// upstream returned.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transformer is a bidirectional adapter between Anthropic's request and
// response shapes and one provider's native shape. Modeled as an
// interface over three independently-optional capabilities rather than a
// class hierarchy, per the "compose, don't inherit" design note — a
// transformer with no formatResponse override (like OpenAI's) simply
// passes the body through.
type Transformer interface {
	// Name identifies the transformer in configuration and logs.
	Name() string
	// Domain is the hostname this transformer claims, used for registry
	// lookup (spec §4.6 transformer discovery).
	Domain() string
	// IsDefault marks the transformer used when no domain matches.
	IsDefault() bool

	// NormalizeRequest builds the dispatch envelope (target URL, headers)
	// for an endpoint and intermediate request.
	NormalizeRequest(ctx context.Context, ep EndpointInfo, req IntermediateRequest) (DispatchConfig, error)
	// FormatRequest renders the upstream HTTP body from the intermediate
	// request.
	FormatRequest(ctx context.Context, ep EndpointInfo, req IntermediateRequest) ([]byte, error)
	// FormatResponse adapts an upstream buffered response into
	// OpenAI-chat-completion shape (or passes it through, if already in
	// that shape) for universal normalization to consume.
	FormatResponse(ctx context.Context, resp UpstreamResponse) (UpstreamResponse, error)
	// StreamDecoder returns the SSE decoder that understands this
	// provider's streaming chunk shape, translating it to Anthropic SSE
	// frames. nil means the provider's stream is not converted frame by
	// frame: the response pipeline reads the whole body and hands it to
	// FormatResponse and universal normalization instead.
	StreamDecoder() StreamDecoder
}

// EndpointInfo is the subset of endpoint.Config a Transformer needs,
// decoupled from package endpoint to avoid a dependency cycle (the
// registry is injected into the Proxy Engine, which already depends on
// package endpoint; transformers must not depend back on it).
type EndpointInfo struct {
	BaseURL string
	APIKey  string
	Model   string
	Headers map[string]string
}

// Registry is a name/domain-keyed lookup of registered transformers.
type Registry struct {
	byName    map[string]Transformer
	ordered   []Transformer
	defaultTr Transformer
}

// NewRegistry builds a Registry from the given transformers. At most one
// may report IsDefault()==true; NewRegistry panics on construction-time
// misconfiguration since this is startup wiring, not a request-time path.
func NewRegistry(transformers ...Transformer) *Registry {
	r := &Registry{byName: make(map[string]Transformer, len(transformers))}
	for _, t := range transformers {
		r.byName[t.Name()] = t
		r.ordered = append(r.ordered, t)
		if t.IsDefault() {
			if r.defaultTr != nil {
				panic(fmt.Sprintf("transformer registry: multiple default transformers (%s, %s)", r.defaultTr.Name(), t.Name()))
			}
			r.defaultTr = t
		}
	}
	return r
}

// ByName looks up a transformer by its registered name (the
// EndpointConfig.Transformer hint).
func (r *Registry) ByName(name string) (Transformer, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// ForHost resolves a transformer for a hostname: exact domain match, then
// substring match in either direction (handles "api.openrouter.ai" vs
// "openrouter.ai"), then the sole default (spec §4.6).
func (r *Registry) ForHost(host string) (Transformer, bool) {
	host = strings.ToLower(host)

	for _, t := range r.ordered {
		if strings.EqualFold(t.Domain(), host) {
			return t, true
		}
	}
	for _, t := range r.ordered {
		d := strings.ToLower(t.Domain())
		if d != "" && (strings.Contains(host, d) || strings.Contains(d, host)) {
			return t, true
		}
	}
	if r.defaultTr != nil {
		return r.defaultTr, true
	}
	return nil, false
}

// Names returns the registered transformer names, for the status query.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ordered))
	for _, t := range r.ordered {
		names = append(names, t.Name())
	}
	return names
}
