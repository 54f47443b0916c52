// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "kaiba/scheduler"

var (
	metricsOnce     sync.Once
	cycleCounter    metric.Int64Counter
	actionCounter   metric.Int64Counter
	cycleDurationMs metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter(instrumentationName)
		cycleCounter, _ = meter.Int64Counter("kaiba.scheduler.cycle.count")
		actionCounter, _ = meter.Int64Counter("kaiba.scheduler.action.count")
		cycleDurationMs, _ = meter.Float64Histogram("kaiba.scheduler.cycle.duration_ms")
	})
}

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
