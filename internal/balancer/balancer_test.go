package balancer

import (
	"testing"
	"time"

	"github.com/florianilch/anthromux/internal/endpoint"
)

func poolOf(configs ...endpoint.Config) *endpoint.Pool {
	return endpoint.NewPool(configs)
}

func markAllHealthy(pool *endpoint.Pool) {
	for _, ep := range pool.All() {
		ep.MarkHealthy()
	}
}

// P1: Polling fairness — for N healthy endpoints, 10*N selections yield
// each endpoint exactly 10 times.
func TestSelector_PollingFairness(t *testing.T) {
	pool := poolOf(
		endpoint.Config{Name: "a", Enabled: true},
		endpoint.Config{Name: "b", Enabled: true},
		endpoint.Config{Name: "c", Enabled: true},
	)
	markAllHealthy(pool)

	sel := NewSelector(pool, Polling, SpeedFirstConfig{})
	counts := map[string]int{}
	for i := 0; i < 30; i++ {
		ep := sel.SelectNext()
		if ep == nil {
			t.Fatalf("selection %d: expected an endpoint, got nil", i)
		}
		counts[ep.Config.Name]++
	}

	for _, name := range []string{"a", "b", "c"} {
		if counts[name] != 10 {
			t.Errorf("endpoint %s: got %d selections, want 10", name, counts[name])
		}
	}
}

// Scenario 1: Polling distributes A,B,C,A,B,C in order.
func TestSelector_PollingOrder(t *testing.T) {
	pool := poolOf(
		endpoint.Config{Name: "A", Enabled: true},
		endpoint.Config{Name: "B", Enabled: true},
		endpoint.Config{Name: "C", Enabled: true},
	)
	markAllHealthy(pool)

	sel := NewSelector(pool, Polling, SpeedFirstConfig{})
	want := []string{"A", "B", "C", "A", "B", "C"}
	for i, w := range want {
		got := sel.SelectNext()
		if got.Config.Name != w {
			t.Fatalf("selection %d: got %s, want %s", i, got.Config.Name, w)
		}
	}
}

// P2: Fallback priority — with orders {0,0,1}, only order-0 endpoints are
// returned while healthy; if both become unhealthy, order-1 is returned.
func TestSelector_FallbackPriority(t *testing.T) {
	pool := poolOf(
		endpoint.Config{Name: "a0", Enabled: true, Order: 0},
		endpoint.Config{Name: "b0", Enabled: true, Order: 0},
		endpoint.Config{Name: "c1", Enabled: true, Order: 1},
	)
	markAllHealthy(pool)

	sel := NewSelector(pool, Fallback, SpeedFirstConfig{})
	for i := 0; i < 10; i++ {
		got := sel.SelectNext()
		if got.Config.Name == "c1" {
			t.Fatalf("selection %d: order=1 endpoint selected while order=0 healthy", i)
		}
	}

	a0, _ := pool.ByName("a0")
	b0, _ := pool.ByName("b0")
	a0.MarkUnhealthy("failure", time.Hour)
	b0.MarkUnhealthy("failure", time.Hour)

	got := sel.SelectNext()
	if got.Config.Name != "c1" {
		t.Fatalf("after order=0 endpoints failed: got %s, want c1", got.Config.Name)
	}
}

// P3: Speed-first monotonicity — the selected endpoint's average response
// time is the pool minimum among qualified endpoints.
func TestSelector_SpeedFirstMonotonicity(t *testing.T) {
	pool := poolOf(
		endpoint.Config{Name: "slow", Enabled: true},
		endpoint.Config{Name: "fast", Enabled: true},
	)
	markAllHealthy(pool)

	slow, _ := pool.ByName("slow")
	fast, _ := pool.ByName("fast")
	for i := 0; i < 3; i++ {
		slow.RecordResponseTime(200 * time.Millisecond)
		fast.RecordResponseTime(50 * time.Millisecond)
	}

	sel := NewSelector(pool, SpeedFirst, SpeedFirstConfig{MinSamples: 2})
	got := sel.SelectNext()
	if got.Config.Name != "fast" {
		t.Fatalf("got %s, want fast (lower average response time)", got.Config.Name)
	}
}

func TestSelector_SpeedFirstFallsBackToPollingWithoutSamples(t *testing.T) {
	pool := poolOf(
		endpoint.Config{Name: "a", Enabled: true},
		endpoint.Config{Name: "b", Enabled: true},
	)
	markAllHealthy(pool)

	sel := NewSelector(pool, SpeedFirst, SpeedFirstConfig{MinSamples: 2})
	got := sel.SelectNext()
	if got == nil {
		t.Fatal("expected a fallback-to-polling selection, got nil")
	}
}

// P4: Ban expiry — an endpoint banned at T for duration D is excluded for
// t<T+D and admissible for t>=T+D on the very next selection.
func TestEndpoint_BanExpiry(t *testing.T) {
	pool := poolOf(endpoint.Config{Name: "a", Enabled: true})
	a, _ := pool.ByName("a")
	a.MarkHealthy()
	a.MarkUnhealthy("boom", 50*time.Millisecond)

	if a.IsSelectable(time.Now()) {
		t.Fatal("endpoint should be banned immediately after failure")
	}

	time.Sleep(80 * time.Millisecond)

	if !a.IsSelectable(time.Now()) {
		t.Fatal("endpoint should be selectable once the ban has expired")
	}
}

func TestSelector_NoEndpointsReturnsNil(t *testing.T) {
	pool := poolOf(endpoint.Config{Name: "a", Enabled: true})
	a, _ := pool.ByName("a")
	a.MarkUnhealthy("boom", time.Hour)

	sel := NewSelector(pool, Polling, SpeedFirstConfig{})
	if got := sel.SelectNext(); got != nil {
		t.Fatalf("expected nil when no endpoints are selectable, got %v", got.Config.Name)
	}
}
