// Package gateway wires the configuration, credential resolution,
// endpoint pool, health prober, transformer registry, and Proxy Engine
// into a single process lifecycle (spec §2/§9).
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/anthromux/internal/balancer"
	"github.com/florianilch/anthromux/internal/credential"
	"github.com/florianilch/anthromux/internal/endpoint"
	"github.com/florianilch/anthromux/internal/gatewaycfg"
	"github.com/florianilch/anthromux/internal/health"
	"github.com/florianilch/anthromux/internal/proxy"
	"github.com/florianilch/anthromux/internal/transformer"
)

// Gateway orchestrates the lifecycle of the proxy server and its
// supporting services, mirroring the teacher's App (spec §2 "Gateway
// orchestrator").
type Gateway struct {
	cfg    *gatewaycfg.Settings
	pool   *endpoint.Pool
	prober *health.Prober
	engine *proxy.Engine

	server *http.Server
	logger *slog.Logger
}

// New resolves credentials, builds the endpoint pool, health prober, and
// transformer registry, and wires them into a Proxy Engine. No network I/O
// happens here beyond credential resolution — Start runs the initial
// health probes and opens the listener.
func New(ctx context.Context, cfg *gatewaycfg.Settings, logger *slog.Logger) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	resolved := make([]endpoint.Config, len(cfg.Endpoints))
	copy(resolved, cfg.Endpoints)
	for i, ep := range resolved {
		key, err := credential.Resolve(ctx, ep.APIKey)
		if err != nil {
			return nil, fmt.Errorf("resolving credential for endpoint %q: %w", ep.Name, err)
		}
		resolved[i].APIKey = key
	}

	pool := endpoint.NewPool(resolved)

	strategy := balancer.Strategy(cfg.BalanceMode.Strategy)
	selector := balancer.NewSelector(pool, strategy, balancer.SpeedFirstConfig{
		MinSamples:         cfg.BalanceMode.SpeedFirst.MinSamples,
		ResponseTimeWindow: cfg.BalanceMode.SpeedFirstResponseTimeWindow(),
	})

	prober := health.New(pool, strategy, health.Config{
		Enabled:     cfg.BalanceMode.HealthCheck.Enabled,
		Interval:    cfg.BalanceMode.HealthCheckInterval(),
		BanDuration: cfg.BalanceMode.BanDuration(),
	})

	registry := transformer.NewRegistry(
		transformer.OpenAITransformer{},
		transformer.OpenRouterTransformer{},
		transformer.GeminiTransformer{},
	)

	outboundProxyURL, err := cfg.ParsedOutboundProxyURL()
	if err != nil {
		return nil, fmt.Errorf("invalid outbound proxy url: %w", err)
	}

	banDuration := time.Duration(0)
	if !cfg.BalanceMode.HealthCheck.Enabled {
		banDuration = cfg.BalanceMode.BanDuration()
	}

	engine := proxy.NewEngine(pool, selector, registry, proxy.Options{
		EnableTransform:   cfg.ProxyMode.EnableTransform,
		EnableLoadBalance: cfg.ProxyMode.EnableLoadBalance,
		Strategy:          cfg.BalanceMode.Strategy,
		BanDuration:       banDuration,
		OutboundProxyURL:  outboundProxyURL,
	}, logger)

	return &Gateway{
		cfg:    cfg,
		pool:   pool,
		prober: prober,
		engine: engine,
		logger: logger,
	}, nil
}

// Start runs the initial health probes, begins periodic probing if
// configured, opens the listener, and serves in the background. It
// returns once the listener is open; receive from the returned error
// channel to observe runtime failures.
func (g *Gateway) Start(ctx context.Context) (<-chan error, error) {
	g.logger.InfoContext(ctx, "running initial health probes")
	if err := g.prober.RunInitial(ctx); err != nil {
		g.logger.WarnContext(ctx, "initial health probe fan-out returned an error", "error", err)
	}
	g.prober.StartPeriodic(ctx)

	address := net.JoinHostPort(g.cfg.Server.Host, strconv.FormatUint(uint64(g.cfg.Server.Port), 10))

	listener, err := net.Listen("tcp", address)
	if err != nil {
		g.prober.Stop()
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	handler := proxy.ApplyMiddlewares(g.engine.Handler(), proxy.Recovery, proxy.Logging(g.logger))

	g.server = &http.Server{
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		err := g.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	g.logger.InfoContext(ctx, "gateway listening", "address", address)
	return errCh, nil
}

// Run starts the gateway and blocks until ctx is cancelled or a runtime
// error occurs, then performs graceful shutdown — the pattern the thin CLI
// entrypoint drives directly.
func (g *Gateway) Run(ctx context.Context) error {
	group, gCtx := errgroup.WithContext(ctx)

	errCh, err := g.Start(gCtx)
	if err != nil {
		return err
	}

	group.Go(func() error {
		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("gateway: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	runtimeErr := group.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), g.cfg.Shutdown.Timeout)
	defer cancel()

	if err := g.Shutdown(shutdownCtx); err != nil {
		if runtimeErr != nil {
			return errors.Join(runtimeErr, err)
		}
		return err
	}
	return runtimeErr
}

// Shutdown performs a graceful HTTP server shutdown, then stops the
// periodic health prober (spec §6 "Stop operation").
func (g *Gateway) Shutdown(ctx context.Context) error {
	defer g.prober.Stop()

	if g.server == nil {
		return nil
	}
	if err := g.server.Shutdown(ctx); err != nil {
		_ = g.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// Status returns the current pool/registry status snapshot, the same
// shape served at GET /status (spec §6).
func (g *Gateway) Status() proxy.StatusResponse {
	return g.engine.Status()
}
