// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

// Package scheduler runs the autonomous cycle: regenerate energy, decide an
// action for every Rei and execute it, one Rei at a time.
package scheduler

import (
	"time"

	"github.com/jllopis/kaiba/pkg/errors"
)

// ErrUnavailable is returned by RunCycle when a collaborator the whole batch
// depends on is not configured. No Rei is processed in that case.
var ErrUnavailable = errors.New(errors.CodeUnavailable, "scheduler collaborators unavailable", nil)

// ErrCycleInProgress is returned by RunCycle in single-flight mode when another
// cycle holds the lock.
var ErrCycleInProgress = errors.New(errors.CodeUnavailable, "a cycle is already running", nil)

// Result actions as reported per Rei.
const (
	ResultLearn  = "Learn"
	ResultDigest = "Digest"
	ResultRest   = "Rest"
	ResultSkip   = "Skip"
)

// Config controls cycle pacing and overlap.
type Config struct {
	Enabled bool `koanf:"enabled" json:"enabled"`
	// Interval between periodic cycles.
	Interval time.Duration `koanf:"interval" json:"interval"`
	// JitterMax bounds the random pause before every Rei after the first.
	JitterMax time.Duration `koanf:"jitter_max" json:"jitter_max"`
	// SingleFlight rejects a cycle while another one holds the lock.
	SingleFlight bool          `koanf:"single_flight" json:"single_flight"`
	LockTTL      time.Duration `koanf:"lock_ttl" json:"lock_ttl"`
}

// DefaultConfig returns an hourly cycle with up to three seconds of jitter.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Interval:  time.Hour,
		JitterMax: 3 * time.Second,
		LockTTL:   30 * time.Minute,
	}
}

// Result is the outcome of one Rei in a cycle.
type Result struct {
	ReiName string `json:"rei_name"`
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Details string `json:"details"`
}

// Summary aggregates a cycle.
type Summary struct {
	ReisProcessed   int `json:"reis_processed"`
	LearnsExecuted  int `json:"learns_executed"`
	DigestsExecuted int `json:"digests_executed"`
	RestsSkipped    int `json:"rests_skipped"`
	Errors          int `json:"errors"`
}

// Report is returned by every cycle, periodic or on demand.
type Report struct {
	TriggeredAt time.Time `json:"triggered_at"`
	Results     []Result  `json:"results"`
	Summary     Summary   `json:"summary"`
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	if !res.Success {
		r.Summary.Errors++
		return
	}
	switch res.Action {
	case ResultLearn:
		r.Summary.LearnsExecuted++
	case ResultDigest:
		r.Summary.DigestsExecuted++
	case ResultRest:
		r.Summary.RestsSkipped++
	}
}
