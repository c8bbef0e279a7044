package observability

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/tgscan-bot/tgscan/internal/config"
)

func TestInitRuntimeWithoutExporter(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{OTELServiceName: "tgscan"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rt, err := InitRuntime(ctx, cfg, logger, nil)
	if err != nil {
		t.Fatalf("init runtime: %v", err)
	}
	if rt.MeterProvider == nil {
		t.Fatal("expected a meter provider even without an exporter")
	}
	if rt.TracerProvider == nil {
		t.Fatal("expected a tracer provider even without an exporter")
	}
	if err := rt.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestRuntimeShutdownNil(t *testing.T) {
	var rt *Runtime
	if err := rt.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil runtime shutdown: %v", err)
	}
}
