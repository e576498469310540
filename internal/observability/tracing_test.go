package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/signalsfoundry/platesim/internal/logging"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("PLATESIM_TRACING_ENABLED", "TRUE")
	t.Setenv("PLATESIM_TRACING_EXPORTER", "OTLP")
	t.Setenv("PLATESIM_TRACING_SERVICE_NAME", "")
	t.Setenv("PLATESIM_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("PLATESIM_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.ServiceName != "platesim" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.SampleRatio != 0.25 || cfg.Endpoint != "collector:4317" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	t.Setenv("PLATESIM_TRACING_SAMPLE_RATIO", "7")
	if got := TracingConfigFromEnv().SampleRatio; got != 1 {
		t.Fatalf("out-of-range ratio should fall back to 1, got %v", got)
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin", SampleRatio: 1}, nil)
	if err == nil {
		t.Fatal("expected error for unsupported exporter")
	}
}

func TestShutdownWithTimeoutSwallowsErrors(t *testing.T) {
	called := false
	ShutdownWithTimeout(context.Background(), func(ctx context.Context) error {
		called = true
		if _, ok := ctx.Deadline(); !ok {
			t.Fatal("shutdown context should carry a deadline")
		}
		return errors.New("flush failed")
	}, nil)
	if !called {
		t.Fatal("shutdown was not invoked")
	}
	ShutdownWithTimeout(context.Background(), nil, nil)
}
