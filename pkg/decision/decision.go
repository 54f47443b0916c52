// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

// Package decision selects the next autonomous action of a Rei from its resource state.
//
// The rules are evaluated in order and the first match wins:
//
//  1. tokens remaining below MinTokensAction: rest
//  2. energy below MinEnergyLearn: rest
//  3. enough undigested memories and energy for a digest: digest
//  4. energy at or above MinEnergyLearn: learn
//  5. rest
package decision

import (
	"fmt"

	"github.com/jllopis/kaiba/pkg/core"
)

// Action is what a Rei does in a cycle.
type Action string

const (
	ActionLearn  Action = "learn"
	ActionDigest Action = "digest"
	ActionRest   Action = "rest"
)

// Thresholds tune the rule list.
type Thresholds struct {
	MinTokensAction   int `koanf:"min_tokens_action" json:"min_tokens_action"`
	MinEnergyLearn    int `koanf:"min_energy_learn" json:"min_energy_learn"`
	MinEnergyDigest   int `koanf:"min_energy_digest" json:"min_energy_digest"`
	MemoriesForDigest int `koanf:"memories_for_digest" json:"memories_for_digest"`
}

// DefaultThresholds returns the production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinTokensAction:   500,
		MinEnergyLearn:    50,
		MinEnergyDigest:   60,
		MemoriesForDigest: 5,
	}
}

// Context is the snapshot of inputs a decision was made on.
type Context struct {
	EnergyLevel         int    `json:"energy_level"`
	TokensRemaining     int    `json:"tokens_remaining"`
	Mood                string `json:"mood"`
	MemoriesSinceDigest int    `json:"memories_since_digest"`
}

// Decision is the selected action and why.
type Decision struct {
	Action  Action  `json:"action"`
	Reason  string  `json:"reason"`
	Context Context `json:"context"`
}

// Engine applies a fixed set of thresholds.
type Engine struct {
	thresholds Thresholds
}

// NewEngine creates an engine. Zero-valued thresholds are allowed and used as is.
func NewEngine(t Thresholds) *Engine {
	return &Engine{thresholds: t}
}

// Thresholds returns the thresholds in use.
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// Decide evaluates the rules against state. It never mutates state.
// A nil state is treated as an exhausted one and yields rest.
func (e *Engine) Decide(state *core.ResourceState, memoriesSinceDigest int) Decision {
	return Decide(e.thresholds, state, memoriesSinceDigest)
}

// Decide is the pure rule evaluation used by Engine.
func Decide(t Thresholds, state *core.ResourceState, memoriesSinceDigest int) Decision {
	var s core.ResourceState
	if state != nil {
		s = *state
	}
	ctx := Context{
		EnergyLevel:         s.EnergyLevel,
		TokensRemaining:     s.TokensRemaining(),
		Mood:                s.Mood,
		MemoriesSinceDigest: memoriesSinceDigest,
	}

	switch {
	case ctx.TokensRemaining < t.MinTokensAction:
		return Decision{
			Action:  ActionRest,
			Reason:  fmt.Sprintf("Token budget low (%d remaining, need %d)", ctx.TokensRemaining, t.MinTokensAction),
			Context: ctx,
		}
	case ctx.EnergyLevel < t.MinEnergyLearn:
		return Decision{
			Action:  ActionRest,
			Reason:  fmt.Sprintf("Energy low (%d, need %d to learn)", ctx.EnergyLevel, t.MinEnergyLearn),
			Context: ctx,
		}
	case memoriesSinceDigest >= t.MemoriesForDigest && ctx.EnergyLevel >= t.MinEnergyDigest:
		return Decision{
			Action:  ActionDigest,
			Reason:  fmt.Sprintf("%d memories to consolidate, energy sufficient (%d)", memoriesSinceDigest, ctx.EnergyLevel),
			Context: ctx,
		}
	case ctx.EnergyLevel >= t.MinEnergyLearn:
		return Decision{
			Action:  ActionLearn,
			Reason:  fmt.Sprintf("Energy sufficient (%d) for learning", ctx.EnergyLevel),
			Context: ctx,
		}
	}
	return Decision{Action: ActionRest, Reason: "Default to rest", Context: ctx}
}
