package endpoint

// Pool is the ordered, process-lifetime list of configured endpoints. The
// order endpoints are passed to New is the order Fallback/Polling cursors
// iterate in, and is stable thereafter.
type Pool struct {
	endpoints []*Endpoint
}

// NewPool builds a Pool from already credential-resolved configs.
func NewPool(configs []Config) *Pool {
	endpoints := make([]*Endpoint, 0, len(configs))
	for _, cfg := range configs {
		endpoints = append(endpoints, New(cfg))
	}
	return &Pool{endpoints: endpoints}
}

// All returns the endpoints in construction order. The returned slice must
// not be mutated.
func (p *Pool) All() []*Endpoint {
	return p.endpoints
}

// ByName returns the endpoint with the given name, if any.
func (p *Pool) ByName(name string) (*Endpoint, bool) {
	for _, ep := range p.endpoints {
		if ep.Config.Name == name {
			return ep, true
		}
	}
	return nil, false
}

// Len returns the number of configured endpoints.
func (p *Pool) Len() int {
	return len(p.endpoints)
}
