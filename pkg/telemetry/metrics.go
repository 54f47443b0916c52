// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/kaiba/pkg/core"
	"github.com/jllopis/kaiba/pkg/errors"
)

// ErrorMetrics counts errors surfaced to API clients and tracks component health.
type ErrorMetrics struct {
	errorCounter      metric.Int64Counter
	healthStatusGauge metric.Int64Gauge
}

// NewErrorMetrics creates the instruments on the global meter provider.
func NewErrorMetrics() (*ErrorMetrics, error) {
	meter := otel.Meter("kaiba/errors")

	errorCounter, err := meter.Int64Counter(
		"kaiba.errors.total",
		metric.WithDescription("Errors by code and component"),
	)
	if err != nil {
		return nil, err
	}
	healthStatusGauge, err := meter.Int64Gauge(
		"kaiba.health.status",
		metric.WithDescription("Component health (0=unhealthy, 1=degraded, 2=healthy)"),
	)
	if err != nil {
		return nil, err
	}
	return &ErrorMetrics{errorCounter: errorCounter, healthStatusGauge: healthStatusGauge}, nil
}

// RecordError counts err under its Kaiba error code, or UNKNOWN.
func (em *ErrorMetrics) RecordError(ctx context.Context, err error, component string) {
	if em == nil || err == nil {
		return
	}
	code, recoverable := "UNKNOWN", "unknown"
	if ke := errors.AsKaibaError(err); ke != nil {
		code = string(ke.Code)
		recoverable = "false"
		if ke.Recoverable {
			recoverable = "true"
		}
	}
	em.errorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorCode, code),
		attribute.String(AttrComponent, component),
		attribute.String("recoverable", recoverable),
	))
}

// RecordHealth records the status of one component.
func (em *ErrorMetrics) RecordHealth(ctx context.Context, component string, status core.HealthStatus) {
	if em == nil {
		return
	}
	em.healthStatusGauge.Record(ctx, HealthValue(status), metric.WithAttributes(
		attribute.String(AttrComponent, component),
	))
}

// HealthValue maps a status to its gauge value.
func HealthValue(status core.HealthStatus) int64 {
	switch status {
	case core.HealthHealthy:
		return 2
	case core.HealthDegraded:
		return 1
	}
	return 0
}
