// Package health probes upstream endpoints to determine whether they are
// serving traffic, both once at startup and periodically while serving.
package health

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/errgroup"

	"github.com/florianilch/anthromux/internal/balancer"
	"github.com/florianilch/anthromux/internal/endpoint"
)

// legacyProbeModel is the hardcoded fallback probe model when an endpoint's
// own model and Config.ProbeModel are both unset. It predates per-endpoint
// model lists and is kept as-is. Config.ProbeModel overrides it, but the
// gateway's Settings have no probe-model option and package gateway never
// sets ProbeModel, so in a running gateway probes use the endpoint's model
// or this one.
const legacyProbeModel = "claude-3-haiku-20241022"

const (
	initialProbeTimeout  = 15 * time.Second
	periodicProbeTimeout = 10 * time.Second
)

// Config tunes the Prober.
type Config struct {
	// Enabled turns on periodic probing of unhealthy endpoints. When
	// false, the ban system in package endpoint is the sole recovery
	// mechanism (spec §4.2).
	Enabled bool
	// Interval between periodic probe sweeps.
	Interval time.Duration
	// ProbeModel overrides legacyProbeModel for the probe request body.
	ProbeModel string
	// BanDuration is passed to MarkUnhealthy on a failed probe when
	// Enabled is false (the Proxy Engine bans on request failures with
	// its own copy of the same duration); when Enabled is true the Prober
	// marks failures without a ban.
	BanDuration time.Duration
}

// Prober issues minimal Anthropic Messages API calls against each
// endpoint's baseUrl to determine health.
type Prober struct {
	pool     *endpoint.Pool
	strategy balancer.Strategy
	cfg      Config

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Prober over pool. strategy is consulted by RunInitial:
// under SpeedFirst every endpoint is probed (timing samples are needed to
// bootstrap the strategy); under other strategies a probe goroutine that
// starts after another endpoint was reported healthy takes that report and
// skips its own probe. All probe goroutines are launched together, so in
// practice nearly every endpoint is still probed, and RunInitial returns
// only after every started probe has finished.
func New(pool *endpoint.Pool, strategy balancer.Strategy, cfg Config) *Prober {
	if cfg.ProbeModel == "" {
		cfg.ProbeModel = legacyProbeModel
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Prober{pool: pool, strategy: strategy, cfg: cfg}
}

// RunInitial probes every endpoint in parallel before the server starts
// accepting traffic. Returns once probing completes; it does not itself
// decide whether to abort startup (the gateway may choose to start with
// zero healthy endpoints and let requests 503 until a probe succeeds).
func (p *Prober) RunInitial(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	exhaustive := p.strategy == balancer.SpeedFirst
	healthySeen := make(chan struct{}, 1)

	for _, ep := range p.pool.All() {
		ep := ep
		g.Go(func() error {
			if !exhaustive {
				select {
				case <-healthySeen:
					return nil
				default:
				}
			}

			probeCtx, cancel := context.WithTimeout(gCtx, initialProbeTimeout)
			defer cancel()

			healthy, _ := p.probe(probeCtx, ep)
			if healthy {
				select {
				case healthySeen <- struct{}{}:
				default:
				}
			}
			return nil
		})
	}

	return g.Wait()
}

// StartPeriodic begins the periodic probe loop and returns immediately.
// Call Stop to halt it. If cfg.Enabled is false, StartPeriodic is a no-op
// — the ban system is the sole recovery mechanism in that mode.
func (p *Prober) StartPeriodic(ctx context.Context) {
	if !p.cfg.Enabled {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(ctx)
}

// Stop halts the periodic probe loop, if running.
func (p *Prober) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

func (p *Prober) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Prober) sweep(ctx context.Context) {
	now := time.Now()
	for _, ep := range p.pool.All() {
		snap := ep.Snapshot()
		if snap.IsHealthy {
			continue
		}
		if now.Sub(snap.LastCheckAt) < p.cfg.Interval {
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, periodicProbeTimeout)
		_, _ = p.probe(probeCtx, ep)
		cancel()
	}
}

// probe issues one ping request against ep and updates its state. Returns
// whether the endpoint was judged healthy.
func (p *Prober) probe(ctx context.Context, ep *endpoint.Endpoint) (bool, error) {
	model := ep.Config.Model
	if model == "" {
		model = p.cfg.ProbeModel
	}

	client := anthropic.NewClient(
		option.WithAPIKey(ep.Config.APIKey),
		option.WithBaseURL(ep.Config.BaseURL),
	)

	start := time.Now()
	_, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 10,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	elapsed := time.Since(start)

	if probeCountsHealthy(err) {
		ep.MarkHealthy()
		ep.RecordResponseTime(elapsed)
		return true, nil
	}

	reason := "probe failed"
	if err != nil {
		reason = err.Error()
	}
	banDuration := time.Duration(0)
	if !p.cfg.Enabled {
		banDuration = p.cfg.BanDuration
	}
	ep.MarkUnhealthy(reason, banDuration)
	return false, err
}

// probeCountsHealthy implements spec §4.2: "any response with status <500
// counts healthy" — a 4xx (bad key, bad model) still proves the endpoint
// is reachable and responding, only transport failures and 5xx do not.
func probeCountsHealthy(err error) bool {
	if err == nil {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode < 500
	}

	return false
}
