// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kaiba/pkg/core"
	"github.com/jllopis/kaiba/pkg/decision"
	"github.com/jllopis/kaiba/pkg/errors"
	"github.com/jllopis/kaiba/pkg/learning"
	"github.com/jllopis/kaiba/pkg/resilience"
	"github.com/jllopis/kaiba/pkg/store"
	"github.com/jllopis/kaiba/pkg/telemetry"
)

// MemoryCounter counts memories per Rei. memory.Kai implements it.
type MemoryCounter interface {
	CountSince(ctx context.Context, reiID string, typ core.MemoryType, since *time.Time) (int, error)
}

// Deps are the collaborators of a Runner. Reis, States, Memories, Learner and
// Digester are required for a cycle to start.
type Deps struct {
	Reis     store.ReiRepository
	States   store.StateRepository
	Memories MemoryCounter
	Engine   *decision.Engine
	Learner  learning.Executor
	Digester learning.Executor
	Jitter   *JitterSource
	// Locker is used when Config.SingleFlight is set. Defaults to a LocalLocker.
	Locker Locker
	Logger *slog.Logger
	// Sleep waits between Reis. Defaults to resilience.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Runner executes cycles.
type Runner struct {
	deps Deps
	cfg  Config
}

// NewRunner creates a runner. Missing collaborators are reported by RunCycle.
func NewRunner(deps Deps, cfg Config) *Runner {
	if deps.Engine == nil {
		deps.Engine = decision.NewEngine(decision.DefaultThresholds())
	}
	if deps.Jitter == nil {
		deps.Jitter = NewRandomJitterSource()
	}
	if deps.Locker == nil {
		deps.Locker = NewLocalLocker()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Sleep == nil {
		deps.Sleep = resilience.Sleep
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Runner{deps: deps, cfg: cfg}
}

func (r *Runner) missing() []string {
	var out []string
	if r.deps.Reis == nil {
		out = append(out, "rei repository")
	}
	if r.deps.States == nil {
		out = append(out, "state repository")
	}
	if r.deps.Memories == nil {
		out = append(out, "memory store")
	}
	if r.deps.Learner == nil {
		out = append(out, "learn executor")
	}
	if r.deps.Digester == nil {
		out = append(out, "digest executor")
	}
	return out
}

// RunCycle regenerates energy, then decides and executes one action per Rei in
// list order. Failures of a single Rei are reported in its result and never stop
// the cycle. An error is returned only when the cycle could not start or the
// Rei list could not be loaded.
func (r *Runner) RunCycle(ctx context.Context) (*Report, error) {
	initMetrics()
	if missing := r.missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, missing)
	}

	if r.cfg.SingleFlight {
		unlock, ok, err := r.deps.Locker.TryLock(ctx, CycleLockKey, r.cfg.LockTTL)
		if err != nil {
			return nil, errors.New(errors.CodeUnavailable, "acquire cycle lock", err)
		}
		if !ok {
			return nil, ErrCycleInProgress
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				r.deps.Logger.Warn("scheduler.lock.release.error", slog.String("error", err.Error()))
			}
		}()
	}

	start := r.deps.Now()
	ctx, span := tracer().Start(ctx, "scheduler.cycle")
	defer span.End()
	log := r.deps.Logger
	log.InfoContext(ctx, "scheduler.cycle.start")

	report := &Report{TriggeredAt: start.UTC(), Results: []Result{}}

	regenerated, err := r.deps.States.RegenerateAll(ctx)
	if err != nil {
		log.WarnContext(ctx, "scheduler.regen.error", slog.String("error", err.Error()))
	}

	reis, err := r.deps.Reis.List(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list reis failed")
		cycleCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", false)))
		return nil, errors.New(errors.CodeRepository, "list reis", err)
	}

	for i, rei := range reis {
		if i > 0 {
			if err := r.deps.Sleep(ctx, r.deps.Jitter.Next(r.cfg.JitterMax)); err != nil {
				span.RecordError(err)
				log.WarnContext(ctx, "scheduler.cycle.interrupted",
					slog.Int("processed", report.Summary.ReisProcessed),
					slog.String("error", err.Error()),
				)
				break
			}
		}
		res := r.process(ctx, rei)
		report.Summary.ReisProcessed++
		report.add(res)
		actionCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", res.Action),
			attribute.Bool("success", res.Success),
		))
	}

	elapsed := r.deps.Now().Sub(start)
	cycleCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", true)))
	cycleDurationMs.Record(ctx, float64(elapsed.Milliseconds()))
	span.SetAttributes(
		attribute.Int("reis_processed", report.Summary.ReisProcessed),
		attribute.Int("errors", report.Summary.Errors),
	)
	log.InfoContext(ctx, "scheduler.cycle.complete",
		slog.Int("regenerated", regenerated),
		slog.Int("reis_processed", report.Summary.ReisProcessed),
		slog.Int("learns_executed", report.Summary.LearnsExecuted),
		slog.Int("digests_executed", report.Summary.DigestsExecuted),
		slog.Int("rests_skipped", report.Summary.RestsSkipped),
		slog.Int("errors", report.Summary.Errors),
		slog.Duration("elapsed", elapsed),
	)
	return report, nil
}

func (r *Runner) process(ctx context.Context, rei *core.Rei) Result {
	ctx, span := tracer().Start(ctx, "scheduler.rei", trace.WithAttributes(telemetry.ReiAttributes(rei.ID, rei.Name)...))
	defer span.End()
	log := r.deps.Logger.With(slog.String("rei_id", rei.ID), slog.String("rei_name", rei.Name))

	state, err := r.deps.States.FindState(ctx, rei.ID)
	if err != nil {
		details := err.Error()
		if stderrors.Is(err, store.ErrNotFound) {
			details = "No state found"
		}
		span.SetStatus(codes.Error, details)
		log.WarnContext(ctx, "scheduler.rei.skipped", slog.String("reason", details))
		return Result{ReiName: rei.Name, Action: ResultSkip, Details: details}
	}

	memories, err := r.deps.Memories.CountSince(ctx, rei.ID, core.MemoryLearning, state.LastDigestAt)
	if err != nil {
		log.WarnContext(ctx, "scheduler.memory.count.error", slog.String("error", err.Error()))
		memories = 0
	}

	d := r.deps.Engine.Decide(state, memories)
	span.SetAttributes(telemetry.DecisionAttributes(string(d.Action), d.Reason,
		d.Context.EnergyLevel, d.Context.TokensRemaining, memories)...)
	log.InfoContext(ctx, "scheduler.decision",
		slog.String("action", string(d.Action)),
		slog.String("reason", d.Reason),
		slog.Int("energy", d.Context.EnergyLevel),
		slog.Int("tokens_remaining", d.Context.TokensRemaining),
		slog.Int("memories_since_digest", memories),
	)

	var (
		action   string
		executor learning.Executor
	)
	switch d.Action {
	case decision.ActionLearn:
		action, executor = ResultLearn, r.deps.Learner
	case decision.ActionDigest:
		action, executor = ResultDigest, r.deps.Digester
	default:
		return Result{ReiName: rei.Name, Action: ResultRest, Success: true, Details: d.Reason}
	}

	details, err := executor.Execute(ctx, rei.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "action failed")
		log.ErrorContext(ctx, "scheduler.action.failed",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
		return Result{ReiName: rei.Name, Action: action, Details: err.Error()}
	}
	return Result{ReiName: rei.Name, Action: action, Success: true, Details: details}
}
