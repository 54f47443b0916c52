// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists Reis and their resource state.
//
// Energy changes are applied as clamped deltas inside the store rather than as
// read-modify-write of a whole state, so a scheduled cycle and an on-demand
// trigger touching the same Rei never lose each other's updates.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jllopis/kaiba/pkg/core"
)

// ErrNotFound is returned for unknown Reis or missing state.
var ErrNotFound = errors.New("not found")

// ReiRepository lists and stores Reis.
type ReiRepository interface {
	List(ctx context.Context) ([]*core.Rei, error)
	Get(ctx context.Context, id string) (*core.Rei, error)
	Save(ctx context.Context, rei *core.Rei) (*core.Rei, error)
}

// EnergyChange is the result of a delta update.
type EnergyChange struct {
	Previous int `json:"previous_energy"`
	Current  int `json:"current_energy"`
}

// StateRepository persists ResourceState with delta-style updates.
type StateRepository interface {
	FindState(ctx context.Context, reiID string) (*core.ResourceState, error)
	SaveState(ctx context.Context, state *core.ResourceState) error
	// RegenerateAll credits energy_regen_per_hour to every state with a positive
	// rate, capped at core.MaxEnergy, and returns the number of states touched.
	RegenerateAll(ctx context.Context) (int, error)
	ApplyEnergyDelta(ctx context.Context, reiID string, delta int) (EnergyChange, error)
	// MarkLearned debits energy and stamps last_active_at and last_learn_at.
	MarkLearned(ctx context.Context, reiID string, energyDelta int, at time.Time) error
	// MarkDigested debits energy and stamps last_active_at and last_digest_at.
	MarkDigested(ctx context.Context, reiID string, energyDelta int, at time.Time) error
}
