// Package gatewaycfg turns a TOML config file, environment variables, and
// CLI flags into the in-memory Settings bundle the gateway core consumes
// once at startup. It knows nothing about persistence, migration, or CRUD
// — only about materializing one Settings value (spec §3/§6).
package gatewaycfg

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/anthromux/internal/endpoint"
)

// LogFormat is the structured-logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Default configuration values.
const (
	DefaultLogFormat             = LogFormatText
	DefaultServerHost            = "127.0.0.1"
	DefaultServerPort     uint16 = 4000
	DefaultShutdownTimeout       = 5 * time.Second
	DefaultHealthCheckIntervalMs = 30_000
	DefaultBanDurationSeconds    = 30
	DefaultSpeedFirstMinSamples  = 2
)

// ServerConfig holds the listen address.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"`
}

// ShutdownConfig holds graceful-shutdown behavior.
type ShutdownConfig struct {
	Timeout time.Duration `json:"timeout"`
}

// LoggingConfig holds the logging level and output format.
type LoggingConfig struct {
	Level  slog.Level `json:"level"`
	Format LogFormat  `json:"format" validate:"oneof=text json"`
}

// ProxyMode toggles the Proxy Engine's top-level behaviors (spec §6).
type ProxyMode struct {
	EnableLoadBalance bool `json:"enable_load_balance"`
	EnableTransform   bool `json:"enable_transform"`
	Verbose           bool `json:"verbose"`
	Debug             bool `json:"debug"`
}

// HealthCheckConfig tunes periodic probing (spec §4.2).
type HealthCheckConfig struct {
	Enabled    bool  `json:"enabled"`
	IntervalMs int64 `json:"interval_ms"`
}

// FailedEndpointConfig tunes ban-based recovery, used only when
// HealthCheck.Enabled is false (spec §4.2/§7).
type FailedEndpointConfig struct {
	BanDurationSeconds int64 `json:"ban_duration_seconds"`
}

// SpeedFirstSettings tunes the SpeedFirst strategy (spec §4.1/P3).
type SpeedFirstSettings struct {
	ResponseTimeWindowMs int64 `json:"response_time_window_ms"`
	MinSamples           int   `json:"min_samples"`
}

// BalanceMode bundles load-balancing strategy and its sub-configurations
// (spec §6's `balanceMode` configuration input).
type BalanceMode struct {
	Strategy       string               `json:"strategy" validate:"oneof=fallback polling speed_first"`
	HealthCheck    HealthCheckConfig    `json:"health_check"`
	FailedEndpoint FailedEndpointConfig `json:"failed_endpoint"`
	SpeedFirst     SpeedFirstSettings   `json:"speed_first"`
}

// Settings is the materialized configuration bundle the gateway core
// consumes once at startup (spec §3 "Settings").
type Settings struct {
	Endpoints        []endpoint.Config `json:"endpoints" validate:"required,dive"`
	ProxyMode        ProxyMode         `json:"proxy_mode"`
	BalanceMode      BalanceMode       `json:"balance_mode"`
	OutboundProxyURL string            `json:"outbound_proxy_url,omitempty"`
	Server           ServerConfig      `json:"server"`
	Shutdown         ShutdownConfig    `json:"shutdown"`
	Logging          LoggingConfig     `json:"logging"`
}

// Default returns Settings with every default applied and no endpoints —
// callers still need to supply at least one endpoint before Validate
// passes.
func Default() *Settings {
	s := &Settings{}
	s.ApplyDefaults()
	return s
}

// ApplyDefaults fills unset fields with sensible defaults, mirroring the
// teacher's app.Config.ApplyDefaults split between defaulting and
// validating.
func (s *Settings) ApplyDefaults() {
	if s.Logging.Format == "" {
		s.Logging.Format = DefaultLogFormat
	}
	if s.Server.Host == "" {
		s.Server.Host = DefaultServerHost
	}
	if s.Server.Port == 0 {
		s.Server.Port = DefaultServerPort
	}
	if s.Shutdown.Timeout == 0 {
		s.Shutdown.Timeout = DefaultShutdownTimeout
	}
	if s.BalanceMode.Strategy == "" {
		s.BalanceMode.Strategy = "fallback"
	}
	if s.BalanceMode.HealthCheck.IntervalMs == 0 {
		s.BalanceMode.HealthCheck.IntervalMs = DefaultHealthCheckIntervalMs
	}
	if s.BalanceMode.FailedEndpoint.BanDurationSeconds == 0 {
		s.BalanceMode.FailedEndpoint.BanDurationSeconds = DefaultBanDurationSeconds
	}
	if s.BalanceMode.SpeedFirst.MinSamples == 0 {
		s.BalanceMode.SpeedFirst.MinSamples = DefaultSpeedFirstMinSamples
	}
	for i := range s.Endpoints {
		if s.Endpoints[i].Order == 0 {
			s.Endpoints[i].Order = i
		}
	}
}

// Validate checks Settings with struct tags plus the cross-field rules
// that validator tags alone can't express.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return err
	}
	if len(s.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint must be configured")
	}
	seen := make(map[string]bool, len(s.Endpoints))
	for _, ep := range s.Endpoints {
		if ep.Name == "" {
			return fmt.Errorf("endpoint with empty name")
		}
		if seen[ep.Name] {
			return fmt.Errorf("duplicate endpoint name %q", ep.Name)
		}
		seen[ep.Name] = true
		if ep.TransformerEnabled && (ep.BaseURL == "" || ep.APIKey == "") {
			return fmt.Errorf("endpoint %q is transformer-enabled but missing base_url/api_key", ep.Name)
		}
	}
	if s.OutboundProxyURL != "" {
		if _, err := url.Parse(s.OutboundProxyURL); err != nil {
			return fmt.Errorf("invalid outbound_proxy_url: %w", err)
		}
	}
	return nil
}

// HealthCheckInterval is BalanceMode.HealthCheck.IntervalMs as a
// time.Duration, for the health Prober's Config.
func (b BalanceMode) HealthCheckInterval() time.Duration {
	return time.Duration(b.HealthCheck.IntervalMs) * time.Millisecond
}

// BanDuration is BalanceMode.FailedEndpoint.BanDurationSeconds as a
// time.Duration, for the Proxy Engine's Options.
func (b BalanceMode) BanDuration() time.Duration {
	return time.Duration(b.FailedEndpoint.BanDurationSeconds) * time.Second
}

// SpeedFirstResponseTimeWindow is BalanceMode.SpeedFirst.ResponseTimeWindowMs
// as a time.Duration. Carried through but not enforced by package endpoint
// (see DESIGN.md's Open Questions) — the window used there is a sample
// count, not a time window.
func (b BalanceMode) SpeedFirstResponseTimeWindow() time.Duration {
	return time.Duration(b.SpeedFirst.ResponseTimeWindowMs) * time.Millisecond
}

// ParsedOutboundProxyURL parses Settings.OutboundProxyURL, returning nil if
// unset.
func (s *Settings) ParsedOutboundProxyURL() (*url.URL, error) {
	if s.OutboundProxyURL == "" {
		return nil, nil
	}
	return url.Parse(s.OutboundProxyURL)
}
