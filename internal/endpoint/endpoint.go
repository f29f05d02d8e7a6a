// Package endpoint defines the configured and mutable-state shapes for a
// single upstream LLM provider, and the Pool that holds them for the
// lifetime of the process.
package endpoint

import (
	"sync/atomic"
	"time"
)

// Config is the immutable-per-run configuration of one upstream endpoint.
type Config struct {
	Name               string            `json:"name"`
	BaseURL            string            `json:"base_url"`
	APIKey             string            `json:"api_key"`
	Model              string            `json:"model"`
	Order              int               `json:"order"`
	Enabled            bool              `json:"enabled"`
	TransformerEnabled bool              `json:"transformer_enabled"`
	Transformer        string            `json:"transformer"`
	Headers            map[string]string `json:"headers,omitempty"`
}

// maxSamples is the high-water mark for the response-time window; once
// exceeded it is trimmed to the most recent keepSamples. See DESIGN.md for the open
// question this leaves about the unenforced responseTimeWindowMs setting.
const (
	maxSamples  = 100
	keepSamples = 50
)

// State is a mutable snapshot of one endpoint's health and timing. Values
// of State are never mutated in place: Endpoint.state is an
// atomic.Pointer swapped to a freshly computed State on every update, so
// readers always observe a consistent snapshot without locking.
type State struct {
	IsHealthy       bool
	FailureCount    int
	LastError       string
	LastCheckAt     time.Time
	BannedUntil     time.Time // zero value means "not banned"
	ResponseTimes   []time.Duration
	AvgResponseTime time.Duration
	TotalRequests   int64
}

func (s State) withAppendedResponseTime(d time.Duration) State {
	next := s
	times := append(append([]time.Duration(nil), s.ResponseTimes...), d)
	if len(times) > maxSamples {
		times = times[len(times)-keepSamples:]
	}
	next.ResponseTimes = times
	next.AvgResponseTime = average(times)
	next.TotalRequests = s.TotalRequests + 1
	return next
}

func average(times []time.Duration) time.Duration {
	if len(times) == 0 {
		return 0
	}
	var sum time.Duration
	for _, t := range times {
		sum += t
	}
	return sum / time.Duration(len(times))
}

// Endpoint pairs an immutable Config with its mutable State, the latter
// guarded by an atomic pointer swap per spec design note (§9).
type Endpoint struct {
	Config Config

	state atomic.Pointer[State]
}

// New constructs an Endpoint in the initial "unknown" state: not yet
// marked healthy or unhealthy, used until the first probe or request
// outcome settles it.
func New(cfg Config) *Endpoint {
	ep := &Endpoint{Config: cfg}
	ep.state.Store(&State{})
	return ep
}

// Snapshot returns the current State. Safe for concurrent use.
func (e *Endpoint) Snapshot() State {
	return *e.state.Load()
}

// MarkHealthy clears failure count, last error, and any ban.
func (e *Endpoint) MarkHealthy() {
	for {
		old := e.state.Load()
		next := *old
		next.IsHealthy = true
		next.FailureCount = 0
		next.LastError = ""
		next.BannedUntil = time.Time{}
		next.LastCheckAt = time.Now()
		if e.state.CompareAndSwap(old, &next) {
			return
		}
	}
}

// MarkUnhealthy records a failure. If banDuration > 0, sets BannedUntil to
// now+banDuration — callers pass 0 when periodic health probing is enabled,
// since in that mode the ban system is not the recovery mechanism (the
// prober is).
func (e *Endpoint) MarkUnhealthy(reason string, banDuration time.Duration) {
	for {
		old := e.state.Load()
		next := *old
		next.IsHealthy = false
		next.FailureCount = old.FailureCount + 1
		next.LastError = reason
		next.LastCheckAt = time.Now()
		if banDuration > 0 {
			next.BannedUntil = time.Now().Add(banDuration)
		}
		if e.state.CompareAndSwap(old, &next) {
			return
		}
	}
}

// RecordResponseTime appends a successful-request duration to the
// response-time window and recomputes the average.
func (e *Endpoint) RecordResponseTime(d time.Duration) {
	for {
		old := e.state.Load()
		next := old.withAppendedResponseTime(d)
		if e.state.CompareAndSwap(old, &next) {
			return
		}
	}
}

// IsSelectable reports whether the endpoint may currently be chosen by the
// selector: enabled, healthy, and not banned. Ban expiry is lazy — if
// BannedUntil has passed, this clears the ban and marks the endpoint
// healthy as a side effect, per spec §4.1.
func (e *Endpoint) IsSelectable(now time.Time) bool {
	if !e.Config.Enabled {
		return false
	}

	s := e.state.Load()
	if !s.BannedUntil.IsZero() && !now.Before(s.BannedUntil) {
		e.MarkHealthy()
		return true
	}
	if !s.BannedUntil.IsZero() && now.Before(s.BannedUntil) {
		return false
	}
	return s.IsHealthy
}
