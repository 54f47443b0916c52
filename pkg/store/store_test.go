// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jllopis/kaiba/pkg/core"
)

type testStore interface {
	ReiRepository
	StateRepository
}

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	s, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	return s
}

func forEachStore(t *testing.T, fn func(t *testing.T, s testStore)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
}

func seedRei(t *testing.T, s testStore, name string, energy, regen int) *core.Rei {
	t.Helper()
	ctx := context.Background()
	r, err := s.Save(ctx, &core.Rei{Name: name, Role: "researcher"})
	if err != nil {
		t.Fatalf("save rei: %v", err)
	}
	st, err := s.FindState(ctx, r.ID)
	if err != nil {
		t.Fatalf("find state: %v", err)
	}
	st.EnergyLevel = energy
	st.EnergyRegenPerHour = regen
	if err := s.SaveState(ctx, st); err != nil {
		t.Fatalf("save state: %v", err)
	}
	return r
}

func TestSaveCreatesDefaultState(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		ctx := context.Background()
		r, err := s.Save(ctx, &core.Rei{
			Name: "Mika",
			Role: "researcher",
			Manifest: core.Manifest{
				Interests: []string{"rust"},
				Extra:     map[string]any{"tone": "dry"},
			},
		})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		if r.ID == "" {
			t.Fatalf("expected id to be assigned")
		}
		got, err := s.Get(ctx, r.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if diff := cmp.Diff([]string{"rust"}, got.Manifest.Interests); diff != "" {
			t.Errorf("interests mismatch (-want +got):\n%s", diff)
		}
		if got.Manifest.ExtraString("tone", "") != "dry" {
			t.Errorf("expected extra manifest keys to survive, got %v", got.Manifest.Extra)
		}
		st, err := s.FindState(ctx, r.ID)
		if err != nil {
			t.Fatalf("find state: %v", err)
		}
		if st.EnergyLevel != core.DefaultEnergy || st.TokenBudget != core.DefaultTokenBudget || st.Mood != core.DefaultMood {
			t.Errorf("unexpected default state: %+v", st)
		}

		// A second save keeps the existing state.
		if _, err := s.ApplyEnergyDelta(ctx, r.ID, -30); err != nil {
			t.Fatalf("delta: %v", err)
		}
		r.Name = "Mika II"
		if _, err := s.Save(ctx, r); err != nil {
			t.Fatalf("resave: %v", err)
		}
		st, _ = s.FindState(ctx, r.ID)
		if st.EnergyLevel != 70 {
			t.Errorf("expected state to survive resave, got %d", st.EnergyLevel)
		}
	})
}

func TestListOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		ctx := context.Background()
		base := time.Now().Add(-time.Hour).UTC().Truncate(time.Millisecond)
		for i, name := range []string{"b", "a", "c"} {
			if _, err := s.Save(ctx, &core.Rei{Name: name, CreatedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
				t.Fatalf("save: %v", err)
			}
		}
		list, err := s.List(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		var names []string
		for _, r := range list {
			names = append(names, r.Name)
		}
		if diff := cmp.Diff([]string{"b", "a", "c"}, names); diff != "" {
			t.Errorf("order mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		ctx := context.Background()
		if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound from Get, got %v", err)
		}
		if _, err := s.FindState(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound from FindState, got %v", err)
		}
		if _, err := s.ApplyEnergyDelta(ctx, "missing", 10); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound from ApplyEnergyDelta, got %v", err)
		}
		if err := s.MarkLearned(ctx, "missing", -10, time.Now()); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound from MarkLearned, got %v", err)
		}
	})
}

func TestRegenerateAll(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		ctx := context.Background()
		near := seedRei(t, s, "near", 95, 10)
		low := seedRei(t, s, "low", 20, 10)
		off := seedRei(t, s, "off", 30, 0)

		n, err := s.RegenerateAll(ctx)
		if err != nil {
			t.Fatalf("regenerate: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 states touched, got %d", n)
		}
		for id, want := range map[string]int{near.ID: 100, low.ID: 30, off.ID: 30} {
			st, _ := s.FindState(ctx, id)
			if st.EnergyLevel != want {
				t.Errorf("rei %s: expected energy %d, got %d", id, want, st.EnergyLevel)
			}
		}
	})
}

func TestApplyEnergyDelta(t *testing.T) {
	tests := []struct {
		name  string
		start int
		delta int
		want  EnergyChange
	}{
		{"recharge", 40, 10, EnergyChange{Previous: 40, Current: 50}},
		{"recharge capped", 95, 10, EnergyChange{Previous: 95, Current: 100}},
		{"debit floored", 5, -20, EnergyChange{Previous: 5, Current: 0}},
	}
	forEachStore(t, func(t *testing.T, s testStore) {
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				r := seedRei(t, s, tt.name, tt.start, 10)
				got, err := s.ApplyEnergyDelta(context.Background(), r.ID, tt.delta)
				if err != nil {
					t.Fatalf("delta: %v", err)
				}
				if diff := cmp.Diff(tt.want, got); diff != "" {
					t.Errorf("change mismatch (-want +got):\n%s", diff)
				}
			})
		}
	})
}

func TestMarkLearnedAndDigested(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		ctx := context.Background()
		r := seedRei(t, s, "worker", 50, 10)
		learnedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		if err := s.MarkLearned(ctx, r.ID, -30, learnedAt); err != nil {
			t.Fatalf("mark learned: %v", err)
		}
		st, _ := s.FindState(ctx, r.ID)
		if st.EnergyLevel != 20 {
			t.Errorf("expected energy 20 after learning, got %d", st.EnergyLevel)
		}
		if st.LastLearnAt == nil || !st.LastLearnAt.Equal(learnedAt) {
			t.Errorf("expected last_learn_at %v, got %v", learnedAt, st.LastLearnAt)
		}
		if st.LastActiveAt == nil || !st.LastActiveAt.Equal(learnedAt) {
			t.Errorf("expected last_active_at %v, got %v", learnedAt, st.LastActiveAt)
		}
		if st.LastDigestAt != nil {
			t.Errorf("expected last_digest_at untouched, got %v", st.LastDigestAt)
		}

		digestedAt := learnedAt.Add(time.Hour)
		if err := s.MarkDigested(ctx, r.ID, -40, digestedAt); err != nil {
			t.Fatalf("mark digested: %v", err)
		}
		st, _ = s.FindState(ctx, r.ID)
		if st.EnergyLevel != 0 {
			t.Errorf("expected energy floored at 0, got %d", st.EnergyLevel)
		}
		if st.LastDigestAt == nil || !st.LastDigestAt.Equal(digestedAt) {
			t.Errorf("expected last_digest_at %v, got %v", digestedAt, st.LastDigestAt)
		}
		if !st.LastLearnAt.Equal(learnedAt) {
			t.Errorf("expected last_learn_at preserved, got %v", st.LastLearnAt)
		}
	})
}

func TestSaveStateClamps(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		r := seedRei(t, s, "over", 250, 10)
		st, _ := s.FindState(context.Background(), r.ID)
		if st.EnergyLevel != 100 {
			t.Errorf("expected clamp to 100, got %d", st.EnergyLevel)
		}
	})
}

func TestSeed(t *testing.T) {
	doc := `
reis:
  - name: Mika
    role: researcher
    manifest:
      interests: [rust, wasm]
      curiosities: ["why do cats purr"]
    state:
      energy_level: 45
      energy_regen_per_hour: 0
  - name: Ren
    role: writer
`
	forEachStore(t, func(t *testing.T, s testStore) {
		ctx := context.Background()
		reis, err := Seed(ctx, strings.NewReader(doc), s, s)
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
		if len(reis) != 2 {
			t.Fatalf("expected 2 reis, got %d", len(reis))
		}
		if diff := cmp.Diff([]string{"rust", "wasm"}, reis[0].Manifest.Interests); diff != "" {
			t.Errorf("interests mismatch (-want +got):\n%s", diff)
		}
		st, _ := s.FindState(ctx, reis[0].ID)
		if st.EnergyLevel != 45 || st.EnergyRegenPerHour != 0 {
			t.Errorf("expected overrides applied, got %+v", st)
		}
		if st.TokenBudget != core.DefaultTokenBudget {
			t.Errorf("expected default budget kept, got %d", st.TokenBudget)
		}
		st, _ = s.FindState(ctx, reis[1].ID)
		if st.EnergyLevel != core.DefaultEnergy {
			t.Errorf("expected default energy, got %d", st.EnergyLevel)
		}
	})
}

func TestSeedRequiresName(t *testing.T) {
	s := NewMemoryStore()
	_, err := Seed(context.Background(), strings.NewReader("reis:\n  - role: nameless\n"), s, s)
	if err == nil {
		t.Fatalf("expected error for nameless rei")
	}
}
