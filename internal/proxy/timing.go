package proxy

import "time"

// RequestTiming is per-in-flight-request timing state (spec §3), owned by
// the request handler and discarded once the response ends.
type RequestTiming struct {
	StartTime     time.Time
	FirstTokenTime time.Time
}

// MarkFirstToken records the first-byte time, once.
func (t *RequestTiming) MarkFirstToken() {
	if t.FirstTokenTime.IsZero() {
		t.FirstTokenTime = time.Now()
	}
}

// Duration is the time from request start to first upstream byte — the
// sample recorded into an endpoint's response-time window.
func (t *RequestTiming) Duration() time.Duration {
	if t.FirstTokenTime.IsZero() {
		return 0
	}
	return t.FirstTokenTime.Sub(t.StartTime)
}
