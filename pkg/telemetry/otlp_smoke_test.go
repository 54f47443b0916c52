// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"os"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

func TestOTLPSmoke(t *testing.T) {
	if os.Getenv("KAIBA_OTLP_SMOKE_TEST") != "1" {
		t.Skip("set KAIBA_OTLP_SMOKE_TEST=1 to run")
	}
	endpoint := os.Getenv("KAIBA_TELEMETRY_OTLP_ENDPOINT")
	if endpoint == "" {
		t.Skip("set KAIBA_TELEMETRY_OTLP_ENDPOINT for OTLP smoke test")
	}

	shutdown, err := Init("kaiba-smoke-test", "dev", Config{
		Enabled:      true,
		Exporter:     "otlp",
		OTLPEndpoint: endpoint,
		OTLPInsecure: os.Getenv("KAIBA_TELEMETRY_OTLP_INSECURE") == "true",
	})
	if err != nil {
		t.Fatalf("failed to init telemetry: %v", err)
	}

	ctx, span := otel.Tracer("kaiba/telemetry-smoke").Start(context.Background(), "smoke.span")
	span.SetAttributes(ReiAttributes("smoke", "Smoke")...)
	span.End()

	counter, err := otel.Meter("kaiba/telemetry-smoke").Int64Counter("kaiba.telemetry.smoke.count")
	if err == nil {
		counter.Add(ctx, 1, metric.WithAttributes(ReiAttributes("smoke", "")...))
	}

	time.Sleep(2 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("telemetry shutdown failed: %v", err)
	}
}
