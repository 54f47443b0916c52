// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package learning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kaiba/pkg/core"
	"github.com/jllopis/kaiba/pkg/errors"
	"github.com/jllopis/kaiba/pkg/guardrails"
	"github.com/jllopis/kaiba/pkg/resilience"
	"github.com/jllopis/kaiba/pkg/search"
	"github.com/jllopis/kaiba/pkg/store"
	"github.com/jllopis/kaiba/pkg/webhook"
)

// Memory attributes of self-learned content.
const (
	LearningImportance = 0.7
	TagSelfLearning    = "self_learning"
	TagAutoGenerated   = "auto_generated"
)

// Session reports one learning run.
type Session struct {
	ReiID             string   `json:"rei_id"`
	ReiName           string   `json:"rei_name"`
	Queries           []string `json:"queries_generated"`
	SearchesCompleted int      `json:"searches_completed"`
	MemoriesStored    int      `json:"memories_stored"`
	EnergySpent       int      `json:"energy_spent"`
	Errors            []string `json:"errors"`
}

// LearnDeps are the collaborators of a LearnExecutor.
type LearnDeps struct {
	Reis     store.ReiRepository
	States   store.StateRepository
	Memories Memories
	Searcher search.Searcher
	Notifier Notifier
	Logger   *slog.Logger
	// Breaker guards the searcher across Reis. Optional.
	Breaker *resilience.Breaker
	// Retry applies to each search. Defaults to resilience.DefaultRetryConfig.
	Retry *resilience.RetryConfig
	// Guard screens answers before they are stored. Optional.
	Guard *guardrails.Guardrails
	Now   func() time.Time
}

// LearnExecutor searches the web for a Rei's interests and stores the answers as memories.
type LearnExecutor struct {
	deps LearnDeps
	cfg  Config
}

// NewLearnExecutor creates a learn executor. Reis, States, Memories and Searcher are required.
func NewLearnExecutor(deps LearnDeps, cfg Config) (*LearnExecutor, error) {
	if deps.Reis == nil || deps.States == nil || deps.Memories == nil || deps.Searcher == nil {
		return nil, errors.New(errors.CodeUnavailable, "learn executor requires reis, states, memories and searcher", nil)
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Retry == nil {
		rc := resilience.DefaultRetryConfig()
		deps.Retry = &rc
	}
	return &LearnExecutor{deps: deps, cfg: cfg.withDefaults()}, nil
}

// Queries returns the searches a Rei would run, in order, before the MaxQueries cut.
// Interests are suffixed with "latest developments <year>"; an empty manifest falls
// back to "<role> best practices <year>".
func Queries(rei *core.Rei, year int) []string {
	queries := rei.Manifest.LearningQueries(fmt.Sprintf("latest developments %d", year))
	if len(queries) == 0 {
		queries = []string{fmt.Sprintf("%s best practices %d", rei.Role, year)}
	}
	return queries
}

// Execute runs Learn and summarises the session.
func (e *LearnExecutor) Execute(ctx context.Context, reiID string) (string, error) {
	s, err := e.Learn(ctx, reiID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d queries, %d memories stored", len(s.Queries), s.MemoriesStored), nil
}

// Learn runs one learning session. Per-query failures are recorded in the session;
// the session fails only when no search succeeded.
func (e *LearnExecutor) Learn(ctx context.Context, reiID string) (*Session, error) {
	ctx, span := tracer().Start(ctx, "learning.learn", trace.WithAttributes(attribute.String("rei_id", reiID)))
	defer span.End()

	rei, err := e.deps.Reis.Get(ctx, reiID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rei lookup failed")
		return nil, err
	}

	now := nowUTC(e.deps.Now)
	queries := Queries(rei, now.Year())
	if len(queries) > e.cfg.MaxQueries {
		queries = queries[:e.cfg.MaxQueries]
	}
	session := &Session{ReiID: rei.ID, ReiName: rei.Name, Queries: queries, Errors: []string{}}

	for _, q := range queries {
		if ctx.Err() != nil {
			session.Errors = append(session.Errors, fmt.Sprintf("%s: %v", q, ctx.Err()))
			break
		}
		memoryID, refs, err := e.searchAndStore(ctx, rei.ID, q)
		if err != nil {
			session.Errors = append(session.Errors, fmt.Sprintf("%s: %v", q, err))
			e.deps.Logger.WarnContext(ctx, "learning.search.failed",
				slog.String("rei_id", rei.ID),
				slog.String("query", q),
				slog.String("error", err.Error()),
			)
			continue
		}
		session.SearchesCompleted++
		session.MemoriesStored++
		e.deps.Notifier.Notify(ctx, rei.ID, webhook.EventSearchCompleted, map[string]any{
			"query":      q,
			"memory_id":  memoryID,
			"references": refs,
		})
	}

	session.EnergySpent = session.SearchesCompleted * e.cfg.EnergyPerSearch
	if session.SearchesCompleted > 0 {
		if err := e.deps.States.MarkLearned(ctx, rei.ID, -session.EnergySpent, now); err != nil {
			span.RecordError(err)
			return session, errors.New(errors.CodeRepository, "update state after learning", err).
				WithContext("rei_id", rei.ID)
		}
	}

	e.deps.Logger.InfoContext(ctx, "learning.session.complete",
		slog.String("rei_id", rei.ID),
		slog.String("rei_name", rei.Name),
		slog.Int("queries", len(session.Queries)),
		slog.Int("searches_completed", session.SearchesCompleted),
		slog.Int("memories_stored", session.MemoriesStored),
		slog.Int("errors", len(session.Errors)),
	)
	span.SetAttributes(
		attribute.Int("searches_completed", session.SearchesCompleted),
		attribute.Int("memories_stored", session.MemoriesStored),
	)

	if session.SearchesCompleted == 0 && len(session.Errors) > 0 {
		span.SetStatus(codes.Error, "all searches failed")
		return session, errors.New(errors.CodeSearchError,
			fmt.Sprintf("all %d searches failed: %s", len(session.Errors), session.Errors[0]), nil).
			WithContext("rei_id", rei.ID)
	}

	e.deps.Notifier.Notify(ctx, rei.ID, webhook.EventLearningCompleted, session)
	return session, nil
}

func (e *LearnExecutor) searchAndStore(ctx context.Context, reiID, query string) (string, int, error) {
	res, err := e.search(ctx, query)
	if err != nil {
		return "", 0, err
	}
	content := FormatMemory(res, e.cfg.MaxSources)
	if e.deps.Guard != nil {
		if content, err = e.deps.Guard.Screen(ctx, content); err != nil {
			return "", 0, err
		}
	}
	m, err := e.deps.Memories.Add(ctx, core.Memory{
		ReiID:      reiID,
		Content:    content,
		Type:       core.MemoryLearning,
		Importance: LearningImportance,
		Tags:       []string{TagSelfLearning, TagAutoGenerated},
	})
	if err != nil {
		return "", 0, err
	}
	return m.ID, len(res.References), nil
}

func (e *LearnExecutor) search(ctx context.Context, query string) (*search.Result, error) {
	run := func(ctx context.Context) (*search.Result, error) {
		return resilience.Retry(ctx, *e.deps.Retry, func(ctx context.Context) (*search.Result, error) {
			return e.deps.Searcher.Search(ctx, query)
		})
	}
	if e.deps.Breaker == nil {
		return run(ctx)
	}
	var res *search.Result
	err := e.deps.Breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		res, err = run(ctx)
		return err
	})
	return res, err
}

// FormatMemory renders a search answer as markdown with up to maxSources numbered sources.
func FormatMemory(res *search.Result, maxSources int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Query: %s\n\n", res.Query)
	b.WriteString(res.Answer)
	if len(res.References) > 0 {
		b.WriteString("\n\n### Sources:\n")
		for i, ref := range res.References {
			if i >= maxSources {
				break
			}
			fmt.Fprintf(&b, "%d. [%s](%s)\n", i+1, ref.Title, ref.URL)
		}
	}
	return b.String()
}
