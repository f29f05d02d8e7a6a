package gateway

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/florianilch/anthromux/internal/endpoint"
	"github.com/florianilch/anthromux/internal/gatewaycfg"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func minimalSettings() *gatewaycfg.Settings {
	cfg := &gatewaycfg.Settings{
		Endpoints: []endpoint.Config{
			{Name: "a", BaseURL: "https://api.anthropic.com", APIKey: "sk-literal-a", Enabled: true},
			{Name: "b", BaseURL: "https://api.anthropic.com", APIKey: "sk-literal-b", Enabled: true},
		},
	}
	cfg.ApplyDefaults()
	cfg.BalanceMode.HealthCheck.Enabled = false
	return cfg
}

func TestNew_WiresFromLiteralAPIKeys(t *testing.T) {
	gw, err := New(context.Background(), minimalSettings(), discardLogger())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if gw.pool.Len() != 2 {
		t.Fatalf("expected pool of 2 endpoints, got %d", gw.pool.Len())
	}

	status := gw.Status()
	if status.Total != 2 {
		t.Errorf("Status().Total = %d, want 2", status.Total)
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := &gatewaycfg.Settings{}
	cfg.ApplyDefaults()

	if _, err := New(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatal("expected error for a config with no endpoints")
	}
}

func TestNew_ResolvesEnvCredential(t *testing.T) {
	t.Setenv("GATEWAY_TEST_KEY", "sk-from-env")

	cfg := &gatewaycfg.Settings{
		Endpoints: []endpoint.Config{
			{Name: "a", BaseURL: "https://api.anthropic.com", APIKey: "env:GATEWAY_TEST_KEY", Enabled: true},
		},
	}
	cfg.ApplyDefaults()
	cfg.BalanceMode.HealthCheck.Enabled = false

	gw, err := New(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ep, ok := gw.pool.ByName("a")
	if !ok {
		t.Fatal("endpoint \"a\" not found in pool")
	}
	if ep.Config.APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q, want the resolved env value", ep.Config.APIKey)
	}
}

// TestStartListenServeShutdown exercises the full lifecycle against an
// ephemeral port: Start opens a real listener, the server reports no
// runtime error within a short grace window, and Shutdown drains it
// without error.
func TestStartListenServeShutdown(t *testing.T) {
	cfg := minimalSettings()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0 // ephemeral; Start will bind whatever the OS hands back

	gw, err := New(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh, err := gw.Start(ctx)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("server reported an unexpected runtime error: %v", err)
		}
	case <-time.After(50 * time.Millisecond):
		// no runtime error within the grace window; server is up
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
}

func TestShutdown_NoopWithoutStart(t *testing.T) {
	gw, err := New(context.Background(), minimalSettings(), discardLogger())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if err := gw.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown on a never-started gateway returned error: %v", err)
	}
}
