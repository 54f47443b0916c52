// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/kaiba/pkg/core"
	"github.com/jllopis/kaiba/pkg/errors"
	"github.com/jllopis/kaiba/pkg/resilience"
)

// wordEmbedder maps text onto a small bag-of-words vector.
type wordEmbedder struct {
	failures int
	calls    int
}

var vocabulary = []string{"rust", "go", "wasm", "cats", "digest"}

func (e *wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if e.failures > 0 {
		e.failures--
		return nil, stderrors.New("embedder unavailable")
	}
	vec := make([]float32, len(vocabulary)+1)
	vec[len(vocabulary)] = 0.01
	for i, w := range vocabulary {
		if strings.Contains(strings.ToLower(text), w) {
			vec[i] = 1
		}
	}
	return vec, nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestKai(t *testing.T, e Embedder, now time.Time) *Kai {
	t.Helper()
	rc := resilience.DefaultRetryConfig()
	rc.Sleep = noSleep
	k, err := NewKai(NewInMemoryStore(), e, WithRetry(rc), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new kai: %v", err)
	}
	return k
}

func TestKaiAddAndSearch(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	k := newTestKai(t, &wordEmbedder{}, now)
	ctx := context.Background()

	added, err := k.Add(ctx, core.Memory{ReiID: "r1", Content: "Rust ownership", Type: core.MemoryLearning, Importance: 0.7})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if added.ID == "" || !added.CreatedAt.Equal(now) {
		t.Fatalf("expected id and created_at to be assigned, got %+v", added)
	}
	if _, err := k.Add(ctx, core.Memory{ReiID: "r1", Content: "cats purr", Type: core.MemoryFact}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := k.Add(ctx, core.Memory{ReiID: "r2", Content: "rust for r2", Type: core.MemoryLearning}); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := k.Search(ctx, "r1", "rust", 10, Filter{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected only r1 memories, got %d", len(got))
	}
	if got[0].ID != added.ID || got[0].Content != "Rust ownership" {
		t.Errorf("expected the rust memory first, got %+v", got[0])
	}
	if got[0].Importance != 0.7 || got[0].Type != core.MemoryLearning {
		t.Errorf("payload fields lost: %+v", got[0])
	}

	facts, err := k.Search(ctx, "r1", "rust", 10, Filter{Type: core.MemoryFact})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(facts) != 1 || facts[0].Content != "cats purr" {
		t.Errorf("expected type filter to apply, got %+v", facts)
	}

	none, err := k.Search(ctx, "unknown", "rust", 10, Filter{})
	if err != nil || len(none) != 0 {
		t.Errorf("expected no results for unknown rei, got %v, %v", none, err)
	}
}

func TestKaiCountSince(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	k := newTestKai(t, &wordEmbedder{}, base)
	ctx := context.Background()
	for i, typ := range []core.MemoryType{core.MemoryLearning, core.MemoryLearning, core.MemoryExpertise, core.MemoryLearning} {
		m := core.Memory{ReiID: "r1", Content: "rust note", Type: typ, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if _, err := k.Add(ctx, m); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	tests := []struct {
		name  string
		since *time.Time
		want  int
	}{
		{"never digested", nil, 3},
		{"after first", ptr(base), 2},
		{"after last", ptr(base.Add(3 * time.Hour)), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := k.CountSince(ctx, "r1", core.MemoryLearning, tt.since)
			if err != nil {
				t.Fatalf("count: %v", err)
			}
			if n != tt.want {
				t.Errorf("expected %d, got %d", tt.want, n)
			}
		})
	}

	n, err := k.CountSince(ctx, "nobody", core.MemoryLearning, nil)
	if err != nil || n != 0 {
		t.Errorf("expected 0 for missing collection, got %d, %v", n, err)
	}
}

func TestKaiRetriesEmbedder(t *testing.T) {
	e := &wordEmbedder{failures: 2}
	k := newTestKai(t, e, time.Now())
	if _, err := k.Add(context.Background(), core.Memory{ReiID: "r1", Content: "go"}); err != nil {
		t.Fatalf("expected retries to recover, got %v", err)
	}
	if e.calls != 3 {
		t.Errorf("expected 3 embed calls, got %d", e.calls)
	}

	e = &wordEmbedder{failures: 5}
	k = newTestKai(t, e, time.Now())
	_, err := k.Add(context.Background(), core.Memory{ReiID: "r1", Content: "go"})
	if !errors.HasCode(err, errors.CodeMemoryError) {
		t.Fatalf("expected memory error, got %v", err)
	}
}

func TestKaiRejectsInvalidMemories(t *testing.T) {
	k := newTestKai(t, &wordEmbedder{}, time.Now())
	ctx := context.Background()
	if _, err := k.Add(ctx, core.Memory{ReiID: "r1", Content: "  "}); !stderrors.Is(err, ErrEmptyContent) {
		t.Errorf("expected ErrEmptyContent, got %v", err)
	}
	if _, err := k.Add(ctx, core.Memory{Content: "go"}); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Errorf("expected invalid input for missing rei, got %v", err)
	}
	if _, err := k.Add(ctx, core.Memory{ReiID: "r1", Content: "go", Type: "dream"}); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Errorf("expected invalid input for unknown type, got %v", err)
	}
}

func TestFilterMatch(t *testing.T) {
	payload := ToPayload(core.Memory{
		Type:       core.MemoryLearning,
		Importance: 0.7,
		Tags:       []string{"self_learning", "auto_generated"},
		CreatedAt:  time.UnixMilli(5000),
	})
	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"type match", Filter{Type: core.MemoryLearning}, true},
		{"type mismatch", Filter{Type: core.MemoryExpertise}, false},
		{"importance", Filter{MinImportance: 0.5}, true},
		{"importance too high", Filter{MinImportance: 0.9}, false},
		{"created after", Filter{CreatedAfter: ptr(time.UnixMilli(4999))}, true},
		{"created at boundary", Filter{CreatedAfter: ptr(time.UnixMilli(5000))}, false},
		{"any tag", Filter{Tags: []string{"digest", "self_learning"}}, true},
		{"no tag", Filter{Tags: []string{"digest"}}, false},
		{"all tags", Filter{Tags: []string{"self_learning", "auto_generated"}, MatchAllTags: true}, true},
		{"all tags missing one", Filter{Tags: []string{"self_learning", "digest"}, MatchAllTags: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(payload); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestInMemoryStoreDimensionMismatch(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	if err := s.EnsureCollection(ctx, "c", 3); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := s.EnsureCollection(ctx, "c", 4); err == nil {
		t.Errorf("expected dimension conflict")
	}
	if err := s.Upsert(ctx, "c", []Point{{ID: "p", Vector: []float32{1}}}); err == nil {
		t.Errorf("expected vector size mismatch")
	}
	if err := s.Upsert(ctx, "missing", nil); err == nil {
		t.Errorf("expected error for missing collection")
	}
}

func ptr[T any](v T) *T { return &v }
