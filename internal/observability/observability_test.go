package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
)

func TestFanoutHandler_DispatchesToEveryMember(t *testing.T) {
	var bufA, bufB bytes.Buffer
	h := fanoutHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&bufA, nil),
		slog.NewJSONHandler(&bufB, nil),
	}}

	logger := slog.New(h)
	logger.Info("hello", "k", "v")

	if bufA.Len() == 0 {
		t.Error("text handler received nothing")
	}
	if bufB.Len() == 0 {
		t.Error("json handler received nothing")
	}
}

func TestFanoutHandler_EnabledIfAnyMemberEnabled(t *testing.T) {
	h := fanoutHandler{handlers: []slog.Handler{
		slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError}),
		slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}}

	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected Enabled(Debug) to be true because the second handler accepts it")
	}
}

func TestToOtelSeverity_Monotonic(t *testing.T) {
	debug := toOtelSeverity(slog.LevelDebug)
	info := toOtelSeverity(slog.LevelInfo)
	warn := toOtelSeverity(slog.LevelWarn)
	errLvl := toOtelSeverity(slog.LevelError)

	if !(debug < info && info < warn && warn < errLvl) {
		t.Errorf("severities not monotonic: debug=%v info=%v warn=%v error=%v", debug, info, warn, errLvl)
	}
}

func TestNewLocalHandler_FormatSelection(t *testing.T) {
	textHandler := newLocalHandler("text", slog.LevelInfo)
	jsonHandler := newLocalHandler("json", slog.LevelInfo)

	if _, ok := textHandler.(*slog.TextHandler); !ok {
		t.Errorf("format=text did not select a TextHandler, got %T", textHandler)
	}
	if _, ok := jsonHandler.(*slog.JSONHandler); !ok {
		t.Errorf("format=json did not select a JSONHandler, got %T", jsonHandler)
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
