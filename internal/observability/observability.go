// Package observability wires up structured logging for the gateway
// process: a local console/JSON handler for operators tailing the
// process directly, bridged to OpenTelemetry log records so the same
// events reach an OTLP collector when one is configured.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// instrumentationName identifies this package's log records to the OTel
// SDK, the way a tracer/meter name would.
const instrumentationName = "github.com/florianilch/anthromux"

// Instrument installs the process-wide slog default logger: a local
// text-or-JSON handler plus an OpenTelemetry-bridged handler, fanned out
// together. level and format are the gateway's configured log level and
// format (spec §3 Settings.Logging).
//
// The OTLP exporter target is selected the standard OpenTelemetry way:
// OTEL_EXPORTER_OTLP_PROTOCOL / OTEL_EXPORTER_OTLP_ENDPOINT (or the
// logs-specific variants) pick gRPC or HTTP; with neither set, log
// records are written to stdout instead, so a gateway run with no
// collector configured still produces readable output rather than
// silently dropping records.
func Instrument(level slog.Level, format string) error {
	exporter, err := newLogExporter(context.Background())
	if err != nil {
		return fmt.Errorf("observability: creating log exporter: %w", err)
	}

	severityVar := new(minsev.SeverityVar)
	severityVar.SetSeverity(toOtelSeverity(level))

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(
			minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), severityVar),
		),
	)

	otelHandler := otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider))
	localHandler := newLocalHandler(format, level)

	slog.SetDefault(slog.New(fanoutHandler{handlers: []slog.Handler{localHandler, otelHandler}}))
	return nil
}

// newLogExporter picks an OTLP exporter if the standard OTEL_EXPORTER_OTLP_*
// environment variables configure one, falling back to stdout otherwise.
func newLogExporter(ctx context.Context) (sdklog.Exporter, error) {
	protocol := os.Getenv("OTEL_EXPORTER_OTLP_LOGS_PROTOCOL")
	if protocol == "" {
		protocol = os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL")
	}
	switch protocol {
	case "grpc":
		return otlploggrpc.New(ctx)
	case "http/protobuf", "http/json":
		return otlploghttp.New(ctx)
	}
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" || os.Getenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT") != "" {
		return otlploggrpc.New(ctx)
	}
	return stdoutlog.New()
}

func newLocalHandler(format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.NewTextHandler(os.Stderr, opts)
}

func toOtelSeverity(level slog.Level) otellog.Severity {
	switch {
	case level <= slog.LevelDebug:
		return otellog.SeverityDebug
	case level <= slog.LevelInfo:
		return otellog.SeverityInfo
	case level <= slog.LevelWarn:
		return otellog.SeverityWarn
	default:
		return otellog.SeverityError
	}
}

// fanoutHandler dispatches every record to each of handlers, matching
// slog's own Handler contract (Enabled controls whether Handle is called
// at all, so returning true for any member lets the slowest-to-filter
// handler still see the record).
type fanoutHandler struct {
	handlers []slog.Handler
}

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range f.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return fanoutHandler{handlers: next}
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return fanoutHandler{handlers: next}
}
