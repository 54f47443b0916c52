// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/kaiba/pkg/core"
)

// SeedFile is the YAML layout accepted by Seed.
//
//	reis:
//	  - name: Mika
//	    role: researcher
//	    manifest:
//	      interests: [rust, wasm]
//	    state:
//	      energy_level: 80
type SeedFile struct {
	Reis []SeedRei `yaml:"reis"`
}

// SeedRei is one Rei with optional state overrides.
type SeedRei struct {
	core.Rei `yaml:",inline"`
	State    *SeedState `yaml:"state,omitempty"`
}

// SeedState overrides default resource values. Unset fields keep their default.
type SeedState struct {
	EnergyLevel        *int    `yaml:"energy_level"`
	TokenBudget        *int    `yaml:"token_budget"`
	TokensUsed         *int    `yaml:"tokens_used"`
	Mood               *string `yaml:"mood"`
	EnergyRegenPerHour *int    `yaml:"energy_regen_per_hour"`
}

// Seed loads Reis from a YAML document and stores them with their state.
func Seed(ctx context.Context, r io.Reader, reis ReiRepository, states StateRepository) ([]*core.Rei, error) {
	var file SeedFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	out := make([]*core.Rei, 0, len(file.Reis))
	for i, entry := range file.Reis {
		if entry.Name == "" {
			return out, fmt.Errorf("seed entry %d: name is required", i)
		}
		rei := entry.Rei
		saved, err := reis.Save(ctx, &rei)
		if err != nil {
			return out, fmt.Errorf("save rei %q: %w", entry.Name, err)
		}
		if entry.State != nil {
			st, err := states.FindState(ctx, saved.ID)
			if err != nil {
				return out, fmt.Errorf("load state of %q: %w", entry.Name, err)
			}
			entry.State.apply(st)
			if err := states.SaveState(ctx, st); err != nil {
				return out, fmt.Errorf("save state of %q: %w", entry.Name, err)
			}
		}
		out = append(out, saved)
	}
	return out, nil
}

func (o *SeedState) apply(st *core.ResourceState) {
	if o.EnergyLevel != nil {
		st.EnergyLevel = core.ClampEnergy(*o.EnergyLevel)
	}
	if o.TokenBudget != nil {
		st.TokenBudget = *o.TokenBudget
	}
	if o.TokensUsed != nil {
		st.TokensUsed = *o.TokensUsed
	}
	if o.Mood != nil {
		st.Mood = *o.Mood
	}
	if o.EnergyRegenPerHour != nil {
		st.EnergyRegenPerHour = *o.EnergyRegenPerHour
	}
}
