// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// InMemoryStore is an in-process VectorStore using cosine similarity.
type InMemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

type collection struct {
	dimension int
	points    map[string]Point
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{collections: make(map[string]*collection)}
}

func (s *InMemoryStore) EnsureCollection(_ context.Context, name string, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		if c.dimension != dimension {
			return fmt.Errorf("collection %s has dimension %d, not %d", name, c.dimension, dimension)
		}
		return nil
	}
	s.collections[name] = &collection{dimension: dimension, points: make(map[string]Point)}
	return nil
}

func (s *InMemoryStore) Upsert(_ context.Context, name string, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("collection %s does not exist", name)
	}
	for _, p := range points {
		if len(p.Vector) != c.dimension {
			return fmt.Errorf("point %s has dimension %d, collection %s expects %d", p.ID, len(p.Vector), name, c.dimension)
		}
		payload := make(map[string]any, len(p.Payload))
		for k, v := range p.Payload {
			payload[k] = v
		}
		c.points[p.ID] = Point{ID: p.ID, Vector: append([]float32(nil), p.Vector...), Payload: payload}
	}
	return nil
}

func (s *InMemoryStore) Search(_ context.Context, name string, vector []float32, limit int, filter Filter) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, nil
	}
	var out []SearchResult
	for _, p := range c.points {
		if !filter.Match(p.Payload) {
			continue
		}
		out = append(out, SearchResult{ID: p.ID, Score: cosine(vector, p.Vector), Payload: p.Payload})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Count(_ context.Context, name string, filter Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return 0, nil
	}
	n := 0
	for _, p := range c.points {
		if filter.Match(p.Payload) {
			n++
		}
	}
	return n, nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
