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
	"github.com/jllopis/kaiba/pkg/llm"
	"github.com/jllopis/kaiba/pkg/memory"
	"github.com/jllopis/kaiba/pkg/store"
	"github.com/jllopis/kaiba/pkg/webhook"
)

// Memory attributes of digested expertise.
const (
	ExpertiseImportance = 0.9
	TagDigest           = "digest"

	digestQuery     = "recent learnings and discoveries"
	nothingToDigest = "No memories to digest"
)

const digestPrompt = `You are a knowledge synthesizer. Analyze the following learning memories and create a consolidated summary that:
1. Identifies key themes and insights
2. Connects related information
3. Highlights the most important takeaways
4. Organizes knowledge for easy retrieval

## Learning Memories:
%s

## Your Task:
Create a well-structured summary (in the same language as the memories) that consolidates this knowledge into expertise. Focus on actionable insights and key facts.`

// DigestResult reports one digest run.
type DigestResult struct {
	ReiID             string `json:"rei_id"`
	MemoriesProcessed int    `json:"memories_processed"`
	ExpertiseCreated  bool   `json:"expertise_created"`
	ExpertiseID       string `json:"expertise_id,omitempty"`
	Summary           string `json:"summary"`
}

// DigestDeps are the collaborators of a DigestExecutor.
type DigestDeps struct {
	States     store.StateRepository
	Memories   Memories
	Summarizer llm.Provider
	// Model overrides the provider default.
	Model    string
	Notifier Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

// DigestExecutor consolidates a Rei's recent learning memories into one expertise memory.
type DigestExecutor struct {
	deps DigestDeps
	cfg  Config
}

// NewDigestExecutor creates a digest executor. States, Memories and Summarizer are required.
func NewDigestExecutor(deps DigestDeps, cfg Config) (*DigestExecutor, error) {
	if deps.States == nil || deps.Memories == nil || deps.Summarizer == nil {
		return nil, errors.New(errors.CodeUnavailable, "digest executor requires states, memories and summarizer", nil)
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &DigestExecutor{deps: deps, cfg: cfg.withDefaults()}, nil
}

// Execute runs Digest and summarises the result.
func (e *DigestExecutor) Execute(ctx context.Context, reiID string) (string, error) {
	res, err := e.Digest(ctx, reiID)
	if err != nil {
		return "", err
	}
	if !res.ExpertiseCreated {
		return res.Summary, nil
	}
	return fmt.Sprintf("%d memories processed", res.MemoriesProcessed), nil
}

// Digest summarises the learning memories created since the last digest.
// With nothing to digest it changes no state.
func (e *DigestExecutor) Digest(ctx context.Context, reiID string) (*DigestResult, error) {
	ctx, span := tracer().Start(ctx, "learning.digest", trace.WithAttributes(attribute.String("rei_id", reiID)))
	defer span.End()

	state, err := e.deps.States.FindState(ctx, reiID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	memories, err := e.deps.Memories.Search(ctx, reiID, digestQuery, e.cfg.MemoryScanLimit, memory.Filter{
		Type:         core.MemoryLearning,
		CreatedAfter: state.LastDigestAt,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "memory search failed")
		return nil, err
	}
	result := &DigestResult{ReiID: reiID, MemoriesProcessed: len(memories)}
	if len(memories) == 0 {
		result.Summary = nothingToDigest
		return result, nil
	}

	summary, _, err := llm.Complete(ctx, e.deps.Summarizer, e.deps.Model, fmt.Sprintf(digestPrompt, joinMemories(memories)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "summarize failed")
		return nil, errors.New(errors.CodeLLMError, "summarize memories", err).WithContext("rei_id", reiID)
	}
	if summary == "" {
		return nil, errors.New(errors.CodeLLMError, "summarizer returned an empty digest", nil).WithContext("rei_id", reiID)
	}

	expertise, err := e.deps.Memories.Add(ctx, core.Memory{
		ReiID:      reiID,
		Content:    summary,
		Type:       core.MemoryExpertise,
		Importance: ExpertiseImportance,
		Tags:       []string{TagDigest, TagAutoGenerated},
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	result.ExpertiseCreated = true
	result.ExpertiseID = expertise.ID
	result.Summary = summary

	now := nowUTC(e.deps.Now)
	if err := e.deps.States.MarkDigested(ctx, reiID, -e.cfg.DigestEnergyCost, now); err != nil {
		span.RecordError(err)
		return result, errors.New(errors.CodeRepository, "update state after digest", err).WithContext("rei_id", reiID)
	}

	e.deps.Logger.InfoContext(ctx, "learning.digest.complete",
		slog.String("rei_id", reiID),
		slog.Int("memories_processed", result.MemoriesProcessed),
		slog.String("expertise_id", expertise.ID),
	)
	e.deps.Notifier.Notify(ctx, reiID, webhook.EventMemoryAdded, map[string]any{
		"memory_id":   expertise.ID,
		"memory_type": string(core.MemoryExpertise),
		"importance":  ExpertiseImportance,
		"summary":     summary,
	})
	e.deps.Notifier.Notify(ctx, reiID, webhook.EventStateChanged, map[string]any{
		"action":         "digest",
		"energy_delta":   -e.cfg.DigestEnergyCost,
		"last_digest_at": now,
	})
	return result, nil
}

func joinMemories(memories []core.Memory) string {
	parts := make([]string, len(memories))
	for i, m := range memories {
		parts[i] = fmt.Sprintf("### Memory %d\n%s\n", i+1, m.Content)
	}
	return strings.Join(parts, "\n")
}
