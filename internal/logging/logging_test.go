package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(String("run_id", "abc")).Info(context.Background(), "plated particle",
		Int("size", 3),
		Float("radius", 2.5),
		Err(errors.New("boom")),
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if rec["msg"] != "plated particle" || rec["run_id"] != "abc" {
		t.Fatalf("unexpected record %v", rec)
	}
	if rec["size"] != float64(3) || rec["radius"] != 2.5 || rec["error"] != "boom" {
		t.Fatalf("unexpected fields %v", rec)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("level filtering failed: %q", out)
	}
}

func TestRunIDContext(t *testing.T) {
	ctx := context.Background()
	if got := RunIDFromContext(ctx); got != "" {
		t.Fatalf("RunIDFromContext on empty ctx = %q", got)
	}
	id := "5b0e1c9e-run"
	if got := RunIDFromContext(ContextWithRunID(ctx, id)); got != id {
		t.Fatalf("RunIDFromContext = %q, want %q", got, id)
	}
}

func TestEnsureRequestIDIsStable(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	if id == "" {
		t.Fatal("EnsureRequestID returned empty id")
	}
	_, again := EnsureRequestID(ctx)
	if again != id {
		t.Fatalf("EnsureRequestID changed id: %q -> %q", id, again)
	}
	if LoggerFromContext(ctx) != nil {
		t.Fatal("LoggerFromContext should be nil when unset")
	}
	ctx = ContextWithLogger(ctx, Noop())
	if LoggerFromContext(ctx) == nil {
		t.Fatal("LoggerFromContext should return stored logger")
	}
}
