// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultDispatchConcurrency bounds parallel deliveries of one event.
const DefaultDispatchConcurrency = 8

// Dispatcher routes events to every subscribed webhook of a Rei.
type Dispatcher struct {
	repo        Repository
	deliverer   *Deliverer
	concurrency int
	log         *slog.Logger

	background sync.WaitGroup
}

// NewDispatcher creates a dispatcher. A non-positive concurrency uses the default.
func NewDispatcher(repo Repository, deliverer *Deliverer, concurrency int) *Dispatcher {
	if concurrency <= 0 {
		concurrency = DefaultDispatchConcurrency
	}
	return &Dispatcher{
		repo:        repo,
		deliverer:   deliverer,
		concurrency: concurrency,
		log:         slog.Default(),
	}
}

// Dispatch delivers event to every enabled webhook of reiID subscribed to it and
// returns the final delivery records in webhook order. Deliveries run concurrently
// and independently; every record is persisted. data is JSON-encoded unless it is
// already a json.RawMessage.
func (d *Dispatcher) Dispatch(ctx context.Context, reiID string, event EventType, data any) ([]*Delivery, error) {
	raw, err := encodeData(data)
	if err != nil {
		return nil, err
	}
	hooks, err := d.repo.FindByReiAndEvent(ctx, reiID, event)
	if err != nil {
		return nil, fmt.Errorf("find webhooks for rei %s: %w", reiID, err)
	}
	if len(hooks) == 0 {
		return nil, nil
	}

	results := make([]*Delivery, len(hooks))
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, wh := range hooks {
		g.Go(func() error {
			results[i] = d.deliver(ctx, wh, NewPayload(event, reiID, raw))
			return nil
		})
	}
	_ = g.Wait()

	d.log.Info("webhook.dispatch.complete",
		slog.String("rei_id", reiID),
		slog.String("event", event.String()),
		slog.Int("webhooks", len(hooks)),
	)
	return results, nil
}

// Notify dispatches in the background. Delivery outlives the caller's context
// cancellation; Wait blocks until all background dispatches are done.
func (d *Dispatcher) Notify(ctx context.Context, reiID string, event EventType, data any) {
	ctx = context.WithoutCancel(ctx)
	d.background.Add(1)
	go func() {
		defer d.background.Done()
		if _, err := d.Dispatch(ctx, reiID, event, data); err != nil {
			d.log.Warn("webhook.dispatch.error",
				slog.String("rei_id", reiID),
				slog.String("event", event.String()),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait blocks until every Notify call has finished.
func (d *Dispatcher) Wait() {
	d.background.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, wh *Webhook, payload Payload) *Delivery {
	del := NewDelivery(wh.ID, payload)
	d.save(ctx, del)
	del = d.deliverer.Resume(ctx, wh, del, func(progress *Delivery) {
		d.save(ctx, progress)
	})
	d.save(ctx, del)
	return del
}

func (d *Dispatcher) save(ctx context.Context, del *Delivery) {
	if err := d.repo.SaveDelivery(context.WithoutCancel(ctx), del); err != nil {
		d.log.Error("webhook.delivery.save.error",
			slog.String("webhook_id", del.WebhookID),
			slog.String("delivery_id", del.ID),
			slog.String("status", string(del.Status)),
			slog.String("error", err.Error()),
		)
	}
}

func encodeData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, fmt.Errorf("webhook: event data is not valid JSON")
		}
		return v, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("webhook: encode event data: %w", err)
		}
		return raw, nil
	}
}
