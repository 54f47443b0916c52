// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/jllopis/kaiba/pkg/core"
	"github.com/jllopis/kaiba/pkg/errors"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init("kaiba-test", "v0.0.1", Config{})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitStdout(t *testing.T) {
	shutdown, err := Init("kaiba-test", "v0.0.1", Config{Enabled: true, Exporter: "stdout"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInitRejectsBadExporter(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown exporter", Config{Enabled: true, Exporter: "zipkin"}},
		{"otlp without endpoint", Config{Enabled: true, Exporter: "otlp"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Init("kaiba-test", "v0.0.1", tt.cfg); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestConfigureSlogAddsTraceIDs(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "info", "json")

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	logger.InfoContext(ctx, "scheduler.cycle.start")
	span.End()

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if rec["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("expected trace_id, got %v", rec)
	}
	if rec["span_id"] != span.SpanContext().SpanID().String() {
		t.Errorf("expected span_id, got %v", rec)
	}
}

func TestSetLogLevel(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "warn", "text")
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered at warn, got %q", buf.String())
	}
	SetLogLevel("debug")
	logger.Debug("shown")
	if !bytes.Contains(buf.Bytes(), []byte("shown")) {
		t.Fatalf("expected debug output after level change, got %q", buf.String())
	}
}

func TestErrorMetrics(t *testing.T) {
	em, err := NewErrorMetrics()
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	ctx := context.Background()
	em.RecordError(ctx, errors.New(errors.CodeNotFound, "rei not found", nil), "api")
	em.RecordError(ctx, context.DeadlineExceeded, "api")
	em.RecordError(ctx, nil, "api")
	em.RecordHealth(ctx, "store", core.HealthHealthy)

	var nilMetrics *ErrorMetrics
	nilMetrics.RecordError(ctx, context.Canceled, "api")
	nilMetrics.RecordHealth(ctx, "store", core.HealthUnhealthy)
}

func TestHealthValue(t *testing.T) {
	tests := []struct {
		status core.HealthStatus
		want   int64
	}{
		{core.HealthHealthy, 2},
		{core.HealthDegraded, 1},
		{core.HealthUnhealthy, 0},
		{core.HealthStatus("bogus"), 0},
	}
	for _, tt := range tests {
		if got := HealthValue(tt.status); got != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.status, tt.want, got)
		}
	}
}

func TestAttributeHelpers(t *testing.T) {
	rei := ReiAttributes("r1", "")
	if len(rei) != 1 || rei[0] != attribute.String(AttrReiID, "r1") {
		t.Errorf("unexpected rei attributes %v", rei)
	}
	del := DeliveryAttributes("w1", "", "learning_completed", "success", 2)
	if len(del) != 4 {
		t.Errorf("expected empty delivery id to be omitted, got %v", del)
	}
	llm := LLMAttributes("gemini", "gemini-2.0-flash", 0, 12)
	if len(llm) != 3 {
		t.Errorf("expected zero input tokens to be omitted, got %v", llm)
	}
	dec := DecisionAttributes("learn", "Energy sufficient (90) for learning", 90, 1000, 2)
	if dec[0].Value.AsString() != "learn" || dec[2].Value.AsInt64() != 90 {
		t.Errorf("unexpected decision attributes %v", dec)
	}
}
