// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

// Package learning runs the actions a Rei decides on: learning from web
// searches and digesting learnings into expertise.
package learning

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kaiba/pkg/core"
	"github.com/jllopis/kaiba/pkg/memory"
	"github.com/jllopis/kaiba/pkg/webhook"
)

const instrumentationName = "kaiba/learning"

// Executor runs one action for a Rei and returns a short human-readable outcome.
type Executor interface {
	Execute(ctx context.Context, reiID string) (string, error)
}

// Memories is the slice of MemoryKai the executors use.
type Memories interface {
	Add(ctx context.Context, m core.Memory) (core.Memory, error)
	Search(ctx context.Context, reiID, query string, limit int, filter memory.Filter) ([]core.Memory, error)
}

// Notifier publishes Rei events to webhooks. webhook.Dispatcher implements it.
type Notifier interface {
	Notify(ctx context.Context, reiID string, event webhook.EventType, data any)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, webhook.EventType, any) {}

// Config holds the action costs and limits.
type Config struct {
	MaxQueries       int `koanf:"max_queries" json:"max_queries"`
	EnergyPerSearch  int `koanf:"energy_per_search" json:"energy_per_search"`
	DigestEnergyCost int `koanf:"digest_energy_cost" json:"digest_energy_cost"`
	MemoryScanLimit  int `koanf:"memory_scan_limit" json:"memory_scan_limit"`
	MaxSources       int `koanf:"max_sources" json:"max_sources"`
}

// DefaultConfig returns the standard costs: three queries, 10 energy per search,
// 20 energy per digest, ten memories per digest and five sources per memory.
func DefaultConfig() Config {
	return Config{
		MaxQueries:       3,
		EnergyPerSearch:  10,
		DigestEnergyCost: 20,
		MemoryScanLimit:  10,
		MaxSources:       5,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxQueries <= 0 {
		c.MaxQueries = def.MaxQueries
	}
	if c.EnergyPerSearch < 0 {
		c.EnergyPerSearch = def.EnergyPerSearch
	}
	if c.DigestEnergyCost < 0 {
		c.DigestEnergyCost = def.DigestEnergyCost
	}
	if c.MemoryScanLimit <= 0 {
		c.MemoryScanLimit = def.MemoryScanLimit
	}
	if c.MaxSources <= 0 {
		c.MaxSources = def.MaxSources
	}
	return c
}

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

func nowUTC(now func() time.Time) time.Time {
	if now == nil {
		return time.Now().UTC()
	}
	return now().UTC()
}
