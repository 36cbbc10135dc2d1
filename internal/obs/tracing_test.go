package obs

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitTracingLogsSpans(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	shutdown, err := InitTracing(TracingConfig{ServiceName: "test", SampleRatio: 1, LogSpans: true}, zap.New(core))
	if err != nil {
		t.Fatalf("init tracing: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	_, span := otel.Tracer("obs-test").Start(context.Background(), "unit")
	span.End()

	entries := logs.FilterMessage("span finished").All()
	if len(entries) != 1 {
		t.Fatalf("expected one logged span, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["span"]; got != "unit" {
		t.Fatalf("unexpected span name %v", got)
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger("loud", "json"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, err := NewLogger("info", "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
	l, err := NewLogger("debug", "console")
	if err != nil {
		t.Fatalf("console logger: %v", err)
	}
	SetLogger(l)
	if Logger() != l {
		t.Fatal("SetLogger did not replace the shared logger")
	}
	SetLogger(nil)
}
