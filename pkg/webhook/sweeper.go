// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// SweeperConfig controls redelivery of interrupted deliveries.
type SweeperConfig struct {
	// Interval between sweeps. Zero disables the sweeper.
	Interval time.Duration

	// Timeout bounds a single sweep. Zero means no bound.
	Timeout time.Duration

	// MinAge skips deliveries created more recently than this, so records that
	// another process is still driving are left alone.
	MinAge time.Duration
}

// Sweeper periodically resumes deliveries left pending or retrying, for example
// after a crash, and persists their final record.
type Sweeper struct {
	repo      Repository
	deliverer *Deliverer
	cfg       SweeperConfig
	now       func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a stopped sweeper.
func NewSweeper(repo Repository, deliverer *Deliverer, cfg SweeperConfig) *Sweeper {
	return &Sweeper{repo: repo, deliverer: deliverer, cfg: cfg, now: time.Now}
}

// Start launches the sweep loop. The first sweep runs after one interval.
func (s *Sweeper) Start(ctx context.Context) {
	log := slog.Default()
	if s.cfg.Interval <= 0 {
		log.Info("webhook.sweeper.disabled", slog.Duration("interval", s.cfg.Interval))
		return
	}
	if s.cancel != nil {
		s.Stop()
	}
	initMetrics()
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		log.Info("webhook.sweeper.start", slog.Duration("interval", s.cfg.Interval))
		for {
			select {
			case <-ctx.Done():
				log.Info("webhook.sweeper.stop")
				return
			case <-ticker.C:
				sweepCtx := ctx
				var cancelSweep context.CancelFunc
				if s.cfg.Timeout > 0 {
					sweepCtx, cancelSweep = context.WithTimeout(ctx, s.cfg.Timeout)
				}
				if _, err := s.SweepOnce(sweepCtx); err != nil && !errors.Is(err, context.Canceled) {
					log.Warn("webhook.sweep.error", slog.String("error", err.Error()))
				}
				if cancelSweep != nil {
					cancelSweep()
				}
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	if s.done != nil {
		<-s.done
	}
	s.cancel = nil
	s.done = nil
}

// SweepOnce resumes every eligible unfinished delivery and returns how many were driven.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	ctx, span := tracer().Start(ctx, "webhook.sweep")
	defer span.End()
	traceID, spanID := traceIDs(span)
	log := slog.Default()

	pending, err := s.repo.FindPendingDeliveries(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	resumed := 0
	cutoff := s.now().Add(-s.cfg.MinAge)
	for _, del := range pending {
		if ctx.Err() != nil {
			return resumed, ctx.Err()
		}
		if del.CreatedAt.After(cutoff) || s.deliverer.InFlight(del.ID) {
			continue
		}
		wh, err := s.repo.FindByID(ctx, del.WebhookID)
		switch {
		case errors.Is(err, ErrNotFound):
			s.abandon(ctx, del, "webhook deleted")
			continue
		case err != nil:
			log.Warn("webhook.sweep.lookup.error",
				slog.String("webhook_id", del.WebhookID),
				slog.String("error", err.Error()),
			)
			continue
		case !wh.Enabled:
			s.abandon(ctx, del, "webhook disabled")
			continue
		}

		final := s.deliverer.Resume(ctx, wh, del, func(progress *Delivery) {
			_ = s.repo.SaveDelivery(ctx, progress)
		})
		if err := s.repo.SaveDelivery(context.WithoutCancel(ctx), final); err != nil {
			log.Error("webhook.delivery.save.error",
				slog.String("delivery_id", final.ID),
				slog.String("error", err.Error()),
			)
		}
		resumed++
		sweepCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(final.Status))))
	}
	span.SetAttributes(attribute.Int("pending", len(pending)), attribute.Int("resumed", resumed))
	log.Info("webhook.sweep.complete",
		slog.Int("pending", len(pending)),
		slog.Int("resumed", resumed),
		slog.String("trace_id", traceID),
		slog.String("span_id", spanID),
	)
	return resumed, nil
}

func (s *Sweeper) abandon(ctx context.Context, del *Delivery, reason string) {
	del.apply(DeliveryState{
		Status:       StatusFailed,
		Attempts:     del.Attempts,
		StatusCode:   del.StatusCode,
		ResponseBody: &reason,
	}, s.now())
	if err := s.repo.SaveDelivery(ctx, del); err != nil {
		slog.Default().Error("webhook.delivery.save.error",
			slog.String("delivery_id", del.ID),
			slog.String("error", err.Error()),
		)
	}
	trace.SpanFromContext(ctx).AddEvent("delivery.abandoned", trace.WithAttributes(
		attribute.String("delivery.id", del.ID),
		attribute.String("reason", reason),
	))
}
