// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

// Package webhook notifies external endpoints of Rei activity.
//
// A Deliverer signs and POSTs a Payload to a Webhook and retries failed attempts
// with capped exponential backoff. Each attempt advances a Delivery through the
// pure Transition function; the Dispatcher fans an event out to every subscribed
// webhook and the Sweeper resumes deliveries interrupted by a restart.
package webhook

import (
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Defaults for new webhooks.
const (
	DefaultMaxRetries = 3
	DefaultTimeoutMs  = 30000
)

// ErrNotFound is returned by repositories for unknown webhooks.
var ErrNotFound = errors.New("webhook not found")

// Webhook is an outbound endpoint subscribed to a set of events.
type Webhook struct {
	ID            string         `json:"id"`
	ReiID         string         `json:"rei_id"`
	Name          string         `json:"name"`
	URL           string         `json:"url"`
	Secret        *string        `json:"-"`
	Enabled       bool           `json:"enabled"`
	Events        []EventType    `json:"events"`
	Headers       map[string]any `json:"headers,omitempty"`
	MaxRetries    int            `json:"max_retries"`
	TimeoutMs     int            `json:"timeout_ms"`
	PayloadFormat string         `json:"payload_format,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// New returns an enabled webhook subscribed to all events.
func New(reiID, name, url string) *Webhook {
	now := time.Now().UTC()
	return &Webhook{
		ID:         uuid.NewString(),
		ReiID:      reiID,
		Name:       name,
		URL:        url,
		Enabled:    true,
		Events:     []EventType{EventAll},
		Headers:    map[string]any{},
		MaxRetries: DefaultMaxRetries,
		TimeoutMs:  DefaultTimeoutMs,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ShouldReceive reports whether the webhook is enabled and subscribed to event.
func (w *Webhook) ShouldReceive(event EventType) bool {
	if !w.Enabled {
		return false
	}
	return slices.Contains(w.Events, EventAll) || slices.Contains(w.Events, event)
}

// HasSecret reports whether payloads are signed.
func (w *Webhook) HasSecret() bool {
	return w.Secret != nil
}

// StringHeaders returns the custom headers with string values. Others are dropped.
func (w *Webhook) StringHeaders() map[string]string {
	out := make(map[string]string, len(w.Headers))
	for k, v := range w.Headers {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// Timeout is the per-attempt request timeout.
func (w *Webhook) Timeout() time.Duration {
	if w.TimeoutMs <= 0 {
		return DefaultTimeoutMs * time.Millisecond
	}
	return time.Duration(w.TimeoutMs) * time.Millisecond
}

// Clone returns a deep copy.
func (w *Webhook) Clone() *Webhook {
	if w == nil {
		return nil
	}
	out := *w
	if w.Secret != nil {
		s := *w.Secret
		out.Secret = &s
	}
	out.Events = slices.Clone(w.Events)
	if w.Headers != nil {
		out.Headers = make(map[string]any, len(w.Headers))
		for k, v := range w.Headers {
			out.Headers[k] = v
		}
	}
	return &out
}

// Payload is the body sent to an endpoint. It is not modified after construction.
type Payload struct {
	DeliveryID string          `json:"delivery_id"`
	Event      EventType       `json:"event"`
	ReiID      string          `json:"rei_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       json.RawMessage `json:"data"`
}

// NewPayload creates a payload with a fresh delivery id.
// A nil data value is encoded as an empty object.
func NewPayload(event EventType, reiID string, data json.RawMessage) Payload {
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	return Payload{
		DeliveryID: uuid.NewString(),
		Event:      event,
		ReiID:      reiID,
		Timestamp:  time.Now().UTC(),
		Data:       data,
	}
}

// DeliveryStatus is the lifecycle state of a delivery.
type DeliveryStatus string

const (
	StatusPending  DeliveryStatus = "pending"
	StatusSuccess  DeliveryStatus = "success"
	StatusFailed   DeliveryStatus = "failed"
	StatusRetrying DeliveryStatus = "retrying"
)

// Terminal reports whether no further attempts will be made.
func (s DeliveryStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Delivery tracks the attempts made to deliver one payload to one webhook.
type Delivery struct {
	ID           string         `json:"id"`
	WebhookID    string         `json:"webhook_id"`
	Payload      Payload        `json:"payload"`
	Status       DeliveryStatus `json:"status"`
	StatusCode   *int           `json:"status_code,omitempty"`
	ResponseBody *string        `json:"response_body,omitempty"`
	Attempts     int            `json:"attempts"`
	CreatedAt    time.Time      `json:"created_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// NewDelivery creates a pending delivery with no attempts.
func NewDelivery(webhookID string, payload Payload) *Delivery {
	return &Delivery{
		ID:        uuid.NewString(),
		WebhookID: webhookID,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// State returns the part of the delivery driven by Transition.
func (d *Delivery) State() DeliveryState {
	return DeliveryState{
		Status:       d.Status,
		Attempts:     d.Attempts,
		StatusCode:   d.StatusCode,
		ResponseBody: d.ResponseBody,
	}
}

// apply stores a new state and stamps CompletedAt on terminal states.
func (d *Delivery) apply(s DeliveryState, now time.Time) {
	d.Status = s.Status
	d.Attempts = s.Attempts
	d.StatusCode = s.StatusCode
	d.ResponseBody = s.ResponseBody
	if s.Status.Terminal() && d.CompletedAt == nil {
		t := now.UTC()
		d.CompletedAt = &t
	}
}

// Clone returns a deep copy.
func (d *Delivery) Clone() *Delivery {
	if d == nil {
		return nil
	}
	out := *d
	if d.StatusCode != nil {
		v := *d.StatusCode
		out.StatusCode = &v
	}
	if d.ResponseBody != nil {
		v := *d.ResponseBody
		out.ResponseBody = &v
	}
	if d.CompletedAt != nil {
		v := *d.CompletedAt
		out.CompletedAt = &v
	}
	out.Payload.Data = slices.Clone(d.Payload.Data)
	return &out
}
