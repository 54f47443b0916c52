// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package core

import "time"

// Resource defaults applied when a Rei is created.
const (
	MinEnergy                 = 0
	MaxEnergy                 = 100
	DefaultEnergy             = 100
	DefaultTokenBudget        = 100000
	DefaultEnergyRegenPerHour = 10
	DefaultMood               = "neutral"
)

// ResourceState is the energy and token bookkeeping of a Rei.
// EnergyLevel is kept inside [MinEnergy, MaxEnergy] by every mutator.
type ResourceState struct {
	ReiID              string     `json:"rei_id"`
	EnergyLevel        int        `json:"energy_level"`
	TokenBudget        int        `json:"token_budget"`
	TokensUsed         int        `json:"tokens_used"`
	Mood               string     `json:"mood"`
	EnergyRegenPerHour int        `json:"energy_regen_per_hour"`
	LastActiveAt       *time.Time `json:"last_active_at,omitempty"`
	LastDigestAt       *time.Time `json:"last_digest_at,omitempty"`
	LastLearnAt        *time.Time `json:"last_learn_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// NewResourceState returns the default state for a freshly created Rei.
func NewResourceState(reiID string) *ResourceState {
	return &ResourceState{
		ReiID:              reiID,
		EnergyLevel:        DefaultEnergy,
		TokenBudget:        DefaultTokenBudget,
		Mood:               DefaultMood,
		EnergyRegenPerHour: DefaultEnergyRegenPerHour,
		UpdatedAt:          time.Now().UTC(),
	}
}

// ClampEnergy bounds an energy value to the valid range.
func ClampEnergy(v int) int {
	if v < MinEnergy {
		return MinEnergy
	}
	if v > MaxEnergy {
		return MaxEnergy
	}
	return v
}

// TokensRemaining is budget minus usage. It may be negative.
func (s *ResourceState) TokensRemaining() int {
	return s.TokenBudget - s.TokensUsed
}

// ApplyEnergyDelta adds delta to the energy level and clamps the result.
// It returns the previous level.
func (s *ResourceState) ApplyEnergyDelta(delta int) int {
	prev := s.EnergyLevel
	s.EnergyLevel = ClampEnergy(s.EnergyLevel + delta)
	s.UpdatedAt = time.Now().UTC()
	return prev
}

// Regenerate credits one regeneration tick. A zero or negative rate is a no-op.
func (s *ResourceState) Regenerate() {
	if s.EnergyRegenPerHour <= 0 {
		return
	}
	s.ApplyEnergyDelta(s.EnergyRegenPerHour)
}

// Clone returns a deep copy of the state.
func (s *ResourceState) Clone() *ResourceState {
	if s == nil {
		return nil
	}
	out := *s
	out.LastActiveAt = cloneTime(s.LastActiveAt)
	out.LastDigestAt = cloneTime(s.LastDigestAt)
	out.LastLearnAt = cloneTime(s.LastLearnAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
