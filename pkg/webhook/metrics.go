// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "kaiba/webhook"

var (
	metricsOnce      sync.Once
	deliveryCounter  metric.Int64Counter
	attemptCounter   metric.Int64Counter
	attemptLatencyMs metric.Float64Histogram
	sweepCounter     metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter(instrumentationName)
		deliveryCounter, _ = meter.Int64Counter("kaiba.webhook.delivery.count")
		attemptCounter, _ = meter.Int64Counter("kaiba.webhook.attempt.count")
		attemptLatencyMs, _ = meter.Float64Histogram("kaiba.webhook.attempt.latency_ms")
		sweepCounter, _ = meter.Int64Counter("kaiba.webhook.sweep.resumed.count")
	})
}

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

func traceIDs(span trace.Span) (string, string) {
	if span == nil {
		return "", ""
	}
	sc := span.SpanContext()
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}
