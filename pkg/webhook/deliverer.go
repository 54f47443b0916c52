// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kaiba/pkg/resilience"
	"github.com/jllopis/kaiba/pkg/telemetry"
)

// VerifyTimeout bounds endpoint verification requests.
const VerifyTimeout = 5 * time.Second

const noResponseBody = "No response body"

// DelivererConfig tunes retry pacing.
type DelivererConfig struct {
	// Backoff is the delay schedule between attempts of one delivery.
	Backoff resilience.Backoff

	// Sleep waits between attempts. Defaults to resilience.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error

	// Now is the clock used for completion timestamps.
	Now func() time.Time

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Deliverer signs, sends and retries webhook payloads.
type Deliverer struct {
	transport Transport
	cfg       DelivererConfig
	inflight  sync.Map
}

// NewDeliverer creates a deliverer over transport.
func NewDeliverer(transport Transport, cfg DelivererConfig) *Deliverer {
	if cfg.Backoff == (resilience.Backoff{}) {
		cfg.Backoff = resilience.DefaultBackoff()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = resilience.Sleep
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	initMetrics()
	return &Deliverer{transport: transport, cfg: cfg}
}

// Deliver makes exactly one attempt. The delivery ends in StatusSuccess or StatusFailed
// with one attempt recorded.
func (d *Deliverer) Deliver(ctx context.Context, wh *Webhook, payload Payload) *Delivery {
	del := NewDelivery(wh.ID, payload)
	req, err := d.prepare(wh, payload)
	if err != nil {
		d.failTerminal(del, err)
		return del
	}
	outcome := d.attempt(ctx, wh, del, req)
	del.apply(Transition(del.State(), outcome, 0), d.cfg.Now())
	d.recordFinal(ctx, wh, del)
	return del
}

// DeliverWithRetry attempts delivery up to MaxRetries+1 times, sleeping the backoff
// schedule between attempts, and stops at the first success.
//
// If ctx is canceled while waiting for a retry the delivery is returned in
// StatusRetrying so it can be resumed later.
func (d *Deliverer) DeliverWithRetry(ctx context.Context, wh *Webhook, payload Payload) *Delivery {
	return d.Resume(ctx, wh, NewDelivery(wh.ID, payload), nil)
}

// Resume drives an existing delivery from its current state until it is terminal.
// progress, when set, receives a copy of the delivery after every non-terminal attempt.
func (d *Deliverer) Resume(ctx context.Context, wh *Webhook, del *Delivery, progress func(*Delivery)) *Delivery {
	if del.Status.Terminal() {
		return del
	}
	if _, busy := d.inflight.LoadOrStore(del.ID, struct{}{}); busy {
		return del
	}
	defer d.inflight.Delete(del.ID)

	req, err := d.prepare(wh, del.Payload)
	if err != nil {
		d.failTerminal(del, err)
		return del
	}

	delay := d.delayBefore(del.Attempts)
	for !del.Status.Terminal() {
		if del.Attempts > 0 {
			if err := d.cfg.Sleep(ctx, delay); err != nil {
				d.cfg.Logger.Warn("webhook.delivery.interrupted",
					slog.String("webhook_id", wh.ID),
					slog.String("delivery_id", del.ID),
					slog.Int("attempts", del.Attempts),
					slog.String("error", err.Error()),
				)
				return del
			}
			delay = d.cfg.Backoff.Next(delay)
		}
		outcome := d.attempt(ctx, wh, del, req)
		del.apply(Transition(del.State(), outcome, wh.MaxRetries), d.cfg.Now())
		if !del.Status.Terminal() && progress != nil {
			progress(del.Clone())
		}
	}
	d.recordFinal(ctx, wh, del)
	return del
}

// InFlight reports whether a delivery is currently being driven by this deliverer.
func (d *Deliverer) InFlight(deliveryID string) bool {
	_, ok := d.inflight.Load(deliveryID)
	return ok
}

// VerifyEndpoint reports whether url answers a HEAD request with 2xx or 405.
func (d *Deliverer) VerifyEndpoint(ctx context.Context, url string) bool {
	resp, err := d.transport.Head(ctx, url, VerifyTimeout)
	if err != nil {
		d.cfg.Logger.Info("webhook.verify.unreachable",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		return false
	}
	return isSuccess(resp.StatusCode) || resp.StatusCode == http.StatusMethodNotAllowed
}

// delayBefore returns the backoff delay preceding the attempt that follows
// attempts completed attempts.
func (d *Deliverer) delayBefore(attempts int) time.Duration {
	delay := d.cfg.Backoff.First()
	for i := 1; i < attempts; i++ {
		delay = d.cfg.Backoff.Next(delay)
	}
	return delay
}

type preparedRequest struct {
	body    []byte
	headers http.Header
}

func (d *Deliverer) prepare(wh *Webhook, payload Payload) (preparedRequest, error) {
	body, err := FormatPayload(wh.PayloadFormat, payload)
	if err != nil {
		return preparedRequest{}, err
	}
	headers := make(http.Header)
	for k, v := range wh.StringHeaders() {
		headers.Set(k, v)
	}
	headers.Set("Content-Type", "application/json")
	if wh.Secret != nil {
		headers.Set(SignatureHeader, Sign(*wh.Secret, body))
	}
	return preparedRequest{body: body, headers: headers}, nil
}

func (d *Deliverer) attempt(ctx context.Context, wh *Webhook, del *Delivery, req preparedRequest) AttemptOutcome {
	ctx, span := tracer().Start(ctx, "webhook.attempt",
		trace.WithAttributes(telemetry.DeliveryAttributes(wh.ID, del.ID, del.Payload.Event.String(), "", del.Attempts+1)...),
	)
	defer span.End()
	traceID, spanID := traceIDs(span)

	start := time.Now()
	resp, err := d.transport.Post(ctx, wh.URL, req.headers, req.body, wh.Timeout())
	durationMs := float64(time.Since(start).Microseconds()) / 1000

	var outcome AttemptOutcome
	result := "success"
	switch {
	case err != nil:
		msg := err.Error()
		outcome = AttemptOutcome{Body: &msg}
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
	case isSuccess(resp.StatusCode):
		code := resp.StatusCode
		body := string(resp.Body)
		outcome = AttemptOutcome{Success: true, StatusCode: &code, Body: &body}
		span.SetAttributes(attribute.Int("http.status_code", code))
	default:
		code := resp.StatusCode
		body := string(resp.Body)
		if body == "" {
			body = noResponseBody
		}
		outcome = AttemptOutcome{StatusCode: &code, Body: &body}
		result = "http_error"
		span.SetAttributes(attribute.Int("http.status_code", code))
		span.SetStatus(codes.Error, http.StatusText(code))
	}

	attemptCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	attemptLatencyMs.Record(ctx, durationMs, metric.WithAttributes(attribute.String("result", result)))
	if !outcome.Success {
		attrs := []any{
			slog.String("webhook_id", wh.ID),
			slog.String("delivery_id", del.ID),
			slog.Int("attempt", del.Attempts+1),
			slog.Int("max_retries", wh.MaxRetries),
			slog.Float64("duration_ms", durationMs),
			slog.String("trace_id", traceID),
			slog.String("span_id", spanID),
		}
		if outcome.StatusCode != nil {
			attrs = append(attrs, slog.Int("status_code", *outcome.StatusCode))
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		d.cfg.Logger.Warn("webhook.attempt.failed", attrs...)
	}
	return outcome
}

func (d *Deliverer) failTerminal(del *Delivery, err error) {
	msg := err.Error()
	del.apply(Transition(del.State(), AttemptOutcome{Body: &msg}, 0), d.cfg.Now())
	d.cfg.Logger.Error("webhook.payload.invalid",
		slog.String("webhook_id", del.WebhookID),
		slog.String("delivery_id", del.ID),
		slog.String("error", msg),
	)
}

func (d *Deliverer) recordFinal(ctx context.Context, wh *Webhook, del *Delivery) {
	deliveryCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(del.Status))))
	level := slog.LevelInfo
	if del.Status == StatusFailed {
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("webhook_id", wh.ID),
		slog.String("delivery_id", del.ID),
		slog.String("status", string(del.Status)),
		slog.Int("attempts", del.Attempts),
	}
	if del.StatusCode != nil {
		attrs = append(attrs, slog.Int("status_code", *del.StatusCode))
	}
	d.cfg.Logger.LogAttrs(ctx, level, "webhook.delivery.complete", attrs...)
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}
