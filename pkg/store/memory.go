// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jllopis/kaiba/pkg/core"
)

// MemoryStore keeps Reis and states in memory. It implements both repositories.
type MemoryStore struct {
	mu     sync.RWMutex
	reis   map[string]*core.Rei
	states map[string]*core.ResourceState
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reis:   make(map[string]*core.Rei),
		states: make(map[string]*core.ResourceState),
	}
}

func (s *MemoryStore) List(_ context.Context) ([]*core.Rei, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.Rei, 0, len(s.reis))
	for _, r := range s.reis {
		out = append(out, cloneRei(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*core.Rei, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reis[id]
	if !ok {
		return nil, fmt.Errorf("rei %s: %w", id, ErrNotFound)
	}
	return cloneRei(r), nil
}

// Save stores rei and creates its default state on first save.
func (s *MemoryStore) Save(_ context.Context, rei *core.Rei) (*core.Rei, error) {
	if rei == nil {
		return nil, fmt.Errorf("rei is nil")
	}
	stored := cloneRei(rei)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.reis[stored.ID]; ok {
		stored.CreatedAt = prev.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.reis[stored.ID] = stored
	if _, ok := s.states[stored.ID]; !ok {
		s.states[stored.ID] = core.NewResourceState(stored.ID)
	}
	return cloneRei(stored), nil
}

func (s *MemoryStore) FindState(_ context.Context, reiID string) (*core.ResourceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[reiID]
	if !ok {
		return nil, fmt.Errorf("state of rei %s: %w", reiID, ErrNotFound)
	}
	return st.Clone(), nil
}

func (s *MemoryStore) SaveState(_ context.Context, state *core.ResourceState) error {
	if state == nil || state.ReiID == "" {
		return fmt.Errorf("state rei id is required")
	}
	st := state.Clone()
	st.EnergyLevel = core.ClampEnergy(st.EnergyLevel)
	st.UpdatedAt = time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.ReiID] = st
	return nil
}

// DeleteState removes the state of a Rei, leaving the Rei itself in place.
func (s *MemoryStore) DeleteState(_ context.Context, reiID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, reiID)
}

func (s *MemoryStore) RegenerateAll(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.states {
		if st.EnergyRegenPerHour > 0 {
			st.Regenerate()
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ApplyEnergyDelta(_ context.Context, reiID string, delta int) (EnergyChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[reiID]
	if !ok {
		return EnergyChange{}, fmt.Errorf("state of rei %s: %w", reiID, ErrNotFound)
	}
	prev := st.ApplyEnergyDelta(delta)
	return EnergyChange{Previous: prev, Current: st.EnergyLevel}, nil
}

func (s *MemoryStore) MarkLearned(_ context.Context, reiID string, energyDelta int, at time.Time) error {
	return s.mark(reiID, energyDelta, at, func(st *core.ResourceState, t *time.Time) { st.LastLearnAt = t })
}

func (s *MemoryStore) MarkDigested(_ context.Context, reiID string, energyDelta int, at time.Time) error {
	return s.mark(reiID, energyDelta, at, func(st *core.ResourceState, t *time.Time) { st.LastDigestAt = t })
}

func (s *MemoryStore) mark(reiID string, energyDelta int, at time.Time, stamp func(*core.ResourceState, *time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[reiID]
	if !ok {
		return fmt.Errorf("state of rei %s: %w", reiID, ErrNotFound)
	}
	st.ApplyEnergyDelta(energyDelta)
	active := at.UTC()
	stamped := active
	st.LastActiveAt = &active
	stamp(st, &stamped)
	return nil
}

func cloneRei(r *core.Rei) *core.Rei {
	out := *r
	m := r.Manifest
	out.Manifest = core.Manifest{
		Interests:      append([]string(nil), m.Interests...),
		LearningTopics: append([]string(nil), m.LearningTopics...),
		Curiosities:    append([]string(nil), m.Curiosities...),
		Instructions:   append([]string(nil), m.Instructions...),
		Quirks:         append([]string(nil), m.Quirks...),
	}
	if m.Extra != nil {
		out.Manifest.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			out.Manifest.Extra[k] = v
		}
	}
	return &out
}
