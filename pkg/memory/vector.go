// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory implements MemoryKai, the vector memory of a Rei, over
// pluggable vector stores and embedders.
package memory

import (
	"context"
	"errors"
	"time"

	"github.com/jllopis/kaiba/pkg/core"
)

// ErrEmptyContent is returned when a memory has nothing to embed.
var ErrEmptyContent = errors.New("memory: empty content")

// VectorStore defines the interface for a vector database.
type VectorStore interface {
	// EnsureCollection creates the collection with the given dimension if it does not exist.
	EnsureCollection(ctx context.Context, name string, dimension int) error
	// Upsert adds or updates points in the vector store.
	Upsert(ctx context.Context, collection string, points []Point) error
	// Search returns the nearest points matching filter. A missing collection yields no results.
	Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter) ([]SearchResult, error)
	// Count returns the number of points matching filter. A missing collection counts 0.
	Count(ctx context.Context, collection string, filter Filter) (int, error)
}

// Embedder defines the interface for converting text to vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Point represents a data point in the vector store.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// SearchResult represents a result from a vector search.
type SearchResult struct {
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// Payload keys written for every memory.
const (
	KeyID         = "id"
	KeyReiID      = "rei_id"
	KeyContent    = "content"
	KeyType       = "memory_type"
	KeyImportance = "importance"
	KeyTags       = "tags"
	KeyCreatedAt  = "created_at"
)

// Filter narrows searches and counts on payload fields. Zero fields do not filter.
type Filter struct {
	Type          core.MemoryType
	Tags          []string
	MatchAllTags  bool
	MinImportance float32
	CreatedAfter  *time.Time
}

// Empty reports whether the filter has no conditions.
func (f Filter) Empty() bool {
	return f.Type == "" && len(f.Tags) == 0 && f.MinImportance == 0 && f.CreatedAfter == nil
}

// Match evaluates the filter against a payload written by ToPayload.
func (f Filter) Match(payload map[string]any) bool {
	if f.Type != "" {
		if t, _ := payload[KeyType].(string); t != string(f.Type) {
			return false
		}
	}
	if f.MinImportance != 0 && payloadFloat(payload[KeyImportance]) < float64(f.MinImportance) {
		return false
	}
	if f.CreatedAfter != nil && payloadInt(payload[KeyCreatedAt]) <= f.CreatedAfter.UnixMilli() {
		return false
	}
	if len(f.Tags) > 0 {
		have := make(map[string]struct{})
		for _, t := range payloadStrings(payload[KeyTags]) {
			have[t] = struct{}{}
		}
		matched := 0
		for _, t := range f.Tags {
			if _, ok := have[t]; ok {
				matched++
			}
		}
		if f.MatchAllTags && matched < len(f.Tags) {
			return false
		}
		if !f.MatchAllTags && matched == 0 {
			return false
		}
	}
	return true
}

// ToPayload renders a memory as a vector store payload. created_at is unix milliseconds.
func ToPayload(m core.Memory) map[string]any {
	return map[string]any{
		KeyID:         m.ID,
		KeyReiID:      m.ReiID,
		KeyContent:    m.Content,
		KeyType:       string(m.Type),
		KeyImportance: float64(m.Importance),
		KeyTags:       append([]string(nil), m.Tags...),
		KeyCreatedAt:  m.CreatedAt.UnixMilli(),
	}
}

// FromPayload rebuilds a memory from a payload. Unknown or mistyped keys are left zero.
func FromPayload(id string, score float32, payload map[string]any) core.Memory {
	m := core.Memory{
		ID:         id,
		Importance: float32(payloadFloat(payload[KeyImportance])),
		Tags:       payloadStrings(payload[KeyTags]),
		Score:      score,
	}
	if v, ok := payload[KeyID].(string); ok && v != "" {
		m.ID = v
	}
	m.ReiID, _ = payload[KeyReiID].(string)
	m.Content, _ = payload[KeyContent].(string)
	if t, ok := payload[KeyType].(string); ok {
		m.Type = core.MemoryType(t)
	}
	if ms := payloadInt(payload[KeyCreatedAt]); ms != 0 {
		m.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return m
}

func payloadFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

func payloadInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func payloadStrings(v any) []string {
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...)
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
