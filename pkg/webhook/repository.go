// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultDeliveryListLimit is the number of deliveries listed per webhook.
const DefaultDeliveryListLimit = 50

// Repository persists webhooks and their deliveries.
type Repository interface {
	FindByID(ctx context.Context, id string) (*Webhook, error)
	FindByRei(ctx context.Context, reiID string) ([]*Webhook, error)
	// FindByReiAndEvent returns the enabled webhooks of reiID that should receive event.
	FindByReiAndEvent(ctx context.Context, reiID string, event EventType) ([]*Webhook, error)
	Save(ctx context.Context, wh *Webhook) (*Webhook, error)
	Delete(ctx context.Context, id string) error
	SetEnabled(ctx context.Context, id string, enabled bool) error

	// SaveDelivery inserts or updates a delivery record.
	SaveDelivery(ctx context.Context, d *Delivery) error
	// FindDeliveries returns the newest deliveries of a webhook first.
	FindDeliveries(ctx context.Context, webhookID string, limit int) ([]*Delivery, error)
	// FindPendingDeliveries returns pending and retrying deliveries, oldest first.
	FindPendingDeliveries(ctx context.Context) ([]*Delivery, error)
}

// MemoryRepository stores webhooks and deliveries in memory.
type MemoryRepository struct {
	mu         sync.RWMutex
	webhooks   map[string]*Webhook
	deliveries map[string]*Delivery
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		webhooks:   make(map[string]*Webhook),
		deliveries: make(map[string]*Delivery),
	}
}

func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Webhook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wh, ok := r.webhooks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return wh.Clone(), nil
}

func (r *MemoryRepository) FindByRei(_ context.Context, reiID string) ([]*Webhook, error) {
	return r.filter(func(wh *Webhook) bool { return wh.ReiID == reiID }), nil
}

func (r *MemoryRepository) FindByReiAndEvent(_ context.Context, reiID string, event EventType) ([]*Webhook, error) {
	return r.filter(func(wh *Webhook) bool {
		return wh.ReiID == reiID && wh.ShouldReceive(event)
	}), nil
}

func (r *MemoryRepository) filter(keep func(*Webhook) bool) []*Webhook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Webhook
	for _, wh := range r.webhooks {
		if keep(wh) {
			out = append(out, wh.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r *MemoryRepository) Save(_ context.Context, wh *Webhook) (*Webhook, error) {
	if wh == nil || wh.ID == "" {
		return nil, fmt.Errorf("webhook id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := wh.Clone()
	now := time.Now().UTC()
	if prev, ok := r.webhooks[wh.ID]; ok {
		stored.CreatedAt = prev.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	r.webhooks[wh.ID] = stored
	return stored.Clone(), nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.webhooks[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.webhooks, id)
	for did, d := range r.deliveries {
		if d.WebhookID == id {
			delete(r.deliveries, did)
		}
	}
	return nil
}

func (r *MemoryRepository) SetEnabled(_ context.Context, id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	wh, ok := r.webhooks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	wh.Enabled = enabled
	wh.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) SaveDelivery(_ context.Context, d *Delivery) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("delivery id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries[d.ID] = d.Clone()
	return nil
}

func (r *MemoryRepository) FindDeliveries(_ context.Context, webhookID string, limit int) ([]*Delivery, error) {
	if limit <= 0 {
		limit = DefaultDeliveryListLimit
	}
	out := r.deliveriesWhere(func(d *Delivery) bool { return d.WebhookID == webhookID })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) FindPendingDeliveries(_ context.Context) ([]*Delivery, error) {
	out := r.deliveriesWhere(func(d *Delivery) bool { return !d.Status.Terminal() })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) deliveriesWhere(keep func(*Delivery) bool) []*Delivery {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Delivery
	for _, d := range r.deliveries {
		if keep(d) {
			out = append(out, d.Clone())
		}
	}
	return out
}
