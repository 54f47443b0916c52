// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jllopis/kaiba/pkg/core"
	"github.com/jllopis/kaiba/pkg/errors"
	"github.com/jllopis/kaiba/pkg/resilience"
)

// Kai is the memory sea of all Reis. Each Rei owns one collection.
type Kai struct {
	store    VectorStore
	embedder Embedder
	retry    resilience.RetryConfig
	now      func() time.Time
}

// Option configures a Kai.
type Option func(*Kai)

// WithRetry sets the retry policy for embedder calls.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(k *Kai) { k.retry = rc }
}

// WithClock overrides the clock used to stamp new memories.
func WithClock(now func() time.Time) Option {
	return func(k *Kai) { k.now = now }
}

// NewKai creates a memory sea over store and embedder.
func NewKai(store VectorStore, embedder Embedder, opts ...Option) (*Kai, error) {
	if store == nil {
		return nil, fmt.Errorf("vector store is nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is nil")
	}
	k := &Kai{
		store:    store,
		embedder: embedder,
		retry:    resilience.DefaultRetryConfig(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k, nil
}

// CollectionName returns the collection holding the memories of reiID.
func CollectionName(reiID string) string {
	return reiID + "_memories"
}

// Add embeds and stores m, assigning ID and CreatedAt when unset.
func (k *Kai) Add(ctx context.Context, m core.Memory) (core.Memory, error) {
	if strings.TrimSpace(m.Content) == "" {
		return core.Memory{}, ErrEmptyContent
	}
	if m.ReiID == "" {
		return core.Memory{}, errors.New(errors.CodeInvalidInput, "memory rei id is required", nil)
	}
	if m.Type == "" {
		m.Type = core.MemoryConversation
	}
	if !m.Type.Valid() {
		return core.Memory{}, errors.New(errors.CodeInvalidInput, "unknown memory type", nil).
			WithContext("memory_type", string(m.Type))
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = k.now().UTC()
	}

	vector, err := k.embed(ctx, m.Content)
	if err != nil {
		return core.Memory{}, err
	}
	name := CollectionName(m.ReiID)
	if err := k.store.EnsureCollection(ctx, name, len(vector)); err != nil {
		return core.Memory{}, errors.New(errors.CodeMemoryError, "ensure collection", err).
			WithContext("collection", name)
	}
	point := Point{ID: m.ID, Vector: vector, Payload: ToPayload(m)}
	if err := k.store.Upsert(ctx, name, []Point{point}); err != nil {
		return core.Memory{}, errors.New(errors.CodeMemoryError, "store memory", err).
			WithContext("collection", name)
	}
	return m, nil
}

// Search returns the memories of reiID closest to query.
func (k *Kai) Search(ctx context.Context, reiID, query string, limit int, filter Filter) ([]core.Memory, error) {
	vector, err := k.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	results, err := k.store.Search(ctx, CollectionName(reiID), vector, limit, filter)
	if err != nil {
		return nil, errors.New(errors.CodeMemoryError, "search memories", err).
			WithContext("rei_id", reiID)
	}
	out := make([]core.Memory, 0, len(results))
	for _, r := range results {
		out = append(out, FromPayload(r.ID, r.Score, r.Payload))
	}
	return out, nil
}

// CountSince counts memories of type typ created after since. A nil since counts all of them.
func (k *Kai) CountSince(ctx context.Context, reiID string, typ core.MemoryType, since *time.Time) (int, error) {
	n, err := k.store.Count(ctx, CollectionName(reiID), Filter{Type: typ, CreatedAfter: since})
	if err != nil {
		return 0, errors.New(errors.CodeMemoryError, "count memories", err).
			WithContext("rei_id", reiID)
	}
	return n, nil
}

func (k *Kai) embed(ctx context.Context, text string) ([]float32, error) {
	vector, err := resilience.Retry(ctx, k.retry, func(ctx context.Context) ([]float32, error) {
		return k.embedder.Embed(ctx, text)
	})
	if err != nil {
		return nil, errors.New(errors.CodeMemoryError, "embed text", err)
	}
	if len(vector) == 0 {
		return nil, errors.New(errors.CodeMemoryError, "embedder returned an empty vector", nil)
	}
	return vector, nil
}
