// Package balancer selects the next endpoint from a Pool under a
// configurable strategy (Fallback, Polling, SpeedFirst).
package balancer

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/florianilch/anthromux/internal/endpoint"
)

// Strategy is one of the load-balancing strategies. Fixed for the process
// lifetime once the Selector is constructed.
type Strategy string

const (
	Fallback   Strategy = "fallback"
	Polling    Strategy = "polling"
	SpeedFirst Strategy = "speed_first"
)

// SpeedFirstConfig tunes the SpeedFirst strategy.
type SpeedFirstConfig struct {
	// MinSamples is the minimum number of recorded response times an
	// endpoint needs before it qualifies for speed-based selection.
	MinSamples int
	// ResponseTimeWindow is carried from configuration but not enforced —
	// see DESIGN.md's Open Questions: the response-time window is a
	// sample count (trimmed 100->50), not a time window.
	ResponseTimeWindow time.Duration
}

// Selector returns the next endpoint to dispatch a request to, under a
// fixed strategy. Safe for concurrent use.
type Selector struct {
	pool       *endpoint.Pool
	strategy   Strategy
	speedFirst SpeedFirstConfig

	// pollingCursor and fallbackCursor are shared monotonic cursors;
	// non-atomic increments would only affect distribution fairness, not
	// correctness, but atomics are free here.
	pollingCursor  atomic.Uint64
	fallbackCursor atomic.Uint64
}

// NewSelector constructs a Selector over pool using strategy.
func NewSelector(pool *endpoint.Pool, strategy Strategy, speedFirst SpeedFirstConfig) *Selector {
	if speedFirst.MinSamples <= 0 {
		speedFirst.MinSamples = 2
	}
	return &Selector{pool: pool, strategy: strategy, speedFirst: speedFirst}
}

// SelectNext returns the next endpoint under the active strategy, or nil
// if none are currently selectable. Runs in O(n).
func (s *Selector) SelectNext() *endpoint.Endpoint {
	return s.selectNextExcluding(nil)
}

// SelectNextExcluding returns the next endpoint under the active strategy
// that is not `exclude` — used for the single retry after a failure
// (spec §4.3 point 7 / P7).
func (s *Selector) SelectNextExcluding(exclude *endpoint.Endpoint) *endpoint.Endpoint {
	return s.selectNextExcluding(exclude)
}

func (s *Selector) selectNextExcluding(exclude *endpoint.Endpoint) *endpoint.Endpoint {
	now := time.Now()
	healthy := s.selectable(now, exclude)
	if len(healthy) == 0 {
		return nil
	}

	switch s.strategy {
	case Fallback:
		return s.selectFallback(healthy)
	case SpeedFirst:
		return s.selectSpeedFirst(healthy)
	case Polling:
		return s.selectPolling(healthy)
	default:
		return s.selectPolling(healthy)
	}
}

func (s *Selector) selectable(now time.Time, exclude *endpoint.Endpoint) []*endpoint.Endpoint {
	all := s.pool.All()
	out := make([]*endpoint.Endpoint, 0, len(all))
	for _, ep := range all {
		if ep == exclude {
			continue
		}
		if ep.IsSelectable(now) {
			out = append(out, ep)
		}
	}
	return out
}

func (s *Selector) selectPolling(healthy []*endpoint.Endpoint) *endpoint.Endpoint {
	idx := s.pollingCursor.Add(1) - 1
	return healthy[int(idx%uint64(len(healthy)))]
}

// selectFallback groups by order and round-robins within the lowest-order
// group that currently has at least one selectable endpoint.
func (s *Selector) selectFallback(healthy []*endpoint.Endpoint) *endpoint.Endpoint {
	lowest := healthy[0].Config.Order
	for _, ep := range healthy {
		if ep.Config.Order < lowest {
			lowest = ep.Config.Order
		}
	}

	group := make([]*endpoint.Endpoint, 0, len(healthy))
	for _, ep := range healthy {
		if ep.Config.Order == lowest {
			group = append(group, ep)
		}
	}

	idx := s.fallbackCursor.Add(1) - 1
	return group[int(idx%uint64(len(group)))]
}

// selectSpeedFirst restricts to endpoints with enough samples, choosing the
// minimum average response time; falls back to Polling across the full
// healthy set when nothing qualifies yet, so samples get collected.
func (s *Selector) selectSpeedFirst(healthy []*endpoint.Endpoint) *endpoint.Endpoint {
	type candidate struct {
		ep  *endpoint.Endpoint
		avg time.Duration
	}

	qualified := make([]candidate, 0, len(healthy))
	for _, ep := range healthy {
		snap := ep.Snapshot()
		if len(snap.ResponseTimes) >= s.speedFirst.MinSamples {
			qualified = append(qualified, candidate{ep: ep, avg: snap.AvgResponseTime})
		}
	}

	if len(qualified) == 0 {
		return s.selectPolling(healthy)
	}

	sort.SliceStable(qualified, func(i, j int) bool {
		return qualified[i].avg < qualified[j].avg
	})
	return qualified[0].ep
}
