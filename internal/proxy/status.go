package proxy

import (
	"net/http"
	"time"
)

// StatusResponse is the read-only status query shape (spec §6).
type StatusResponse struct {
	Total       int                `json:"total"`
	Healthy     int                `json:"healthy"`
	Unhealthy   int                `json:"unhealthy"`
	Endpoints   []EndpointStatus   `json:"endpoints"`
	LoadBalance bool               `json:"loadBalance"`
	Transform   bool               `json:"transform"`
	Strategy    string             `json:"strategy,omitempty"`
	Transformers []string          `json:"transformers,omitempty"`
}

// EndpointStatus is one endpoint's status-query entry.
type EndpointStatus struct {
	Name            string        `json:"name"`
	Healthy         bool          `json:"healthy"`
	FailureCount    int           `json:"failureCount"`
	LastError       string        `json:"lastError,omitempty"`
	LastCheckAt     *time.Time    `json:"lastCheckAt,omitempty"`
	BannedUntil     *time.Time    `json:"bannedUntil,omitempty"`
	AvgResponseTime time.Duration `json:"avgResponseTimeMs"`
	TotalRequests   int64         `json:"totalRequests"`
}

// Status builds a status-query snapshot from the current Pool state — the
// same computation GET /status serves, exposed directly for callers (like
// the gateway orchestrator) that want it without going through HTTP.
func (e *Engine) Status() StatusResponse {
	endpoints := e.pool.All()
	resp := StatusResponse{
		Total:        len(endpoints),
		LoadBalance:  e.opts.EnableLoadBalance,
		Transform:    e.opts.EnableTransform,
		Strategy:     e.opts.Strategy,
		Transformers: e.registry.Names(),
	}

	for _, ep := range endpoints {
		snap := ep.Snapshot()
		if snap.IsHealthy {
			resp.Healthy++
		} else {
			resp.Unhealthy++
		}

		entry := EndpointStatus{
			Name:            ep.Config.Name,
			Healthy:         snap.IsHealthy,
			FailureCount:    snap.FailureCount,
			LastError:       snap.LastError,
			AvgResponseTime: snap.AvgResponseTime / time.Millisecond,
			TotalRequests:   snap.TotalRequests,
		}
		if !snap.LastCheckAt.IsZero() {
			lc := snap.LastCheckAt
			entry.LastCheckAt = &lc
		}
		if !snap.BannedUntil.IsZero() {
			bu := snap.BannedUntil
			entry.BannedUntil = &bu
		}
		resp.Endpoints = append(resp.Endpoints, entry)
	}

	return resp
}

func (e *Engine) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(r.Context(), w, errNotFound, "status only accepts GET", http.StatusNotFound)
		return
	}
	writeJSON(r.Context(), w, e.Status(), http.StatusOK)
}
