// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

// Package guardrails screens text a Rei learns from the web before it is
// stored as a memory.
//
// Screening runs in two steps:
//   - Checkers reject the text outright (prompt injection aimed at the
//     summariser that later reads the memory).
//   - Filters rewrite what is kept (PII masking).
//
// Example:
//
//	guard := guardrails.New(
//	    guardrails.WithPromptInjectionDetector(),
//	    guardrails.WithPIIFilter(guardrails.PIIFilterMask),
//	)
//	content, err := guard.Screen(ctx, answer)
package guardrails

import (
	"context"
	"strings"

	"github.com/jllopis/kaiba/pkg/errors"
)

// CheckResult is the verdict of a checker.
type CheckResult struct {
	Blocked bool
	Reason  string
	// GuardrailID identifies the checker that blocked.
	GuardrailID string
	// Confidence in [0,1] of pattern based detection.
	Confidence float64
	Matches    []string
}

// FilterResult is the outcome of a filter.
type FilterResult struct {
	Content    string
	Modified   bool
	Redactions []Redaction
}

// Redaction describes one replaced span. The original text is never kept.
type Redaction struct {
	Type        string
	Replacement string
	Position    int
}

// InputChecker decides whether text may be kept at all.
type InputChecker interface {
	ID() string
	CheckInput(ctx context.Context, input string) CheckResult
}

// OutputFilter rewrites text that is kept.
type OutputFilter interface {
	ID() string
	FilterOutput(ctx context.Context, output string) FilterResult
}

// Guardrails runs checkers, then filters. It is safe for concurrent use once built.
type Guardrails struct {
	checkers []InputChecker
	filters  []OutputFilter
}

// Option configures Guardrails.
type Option func(*Guardrails)

// New creates guardrails with the given checkers and filters.
func New(opts ...Option) *Guardrails {
	g := &Guardrails{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ForLearnedContent is the screen applied to self-learned memories: injection
// detection plus masking of contact and payment data. Dates, versions and
// addresses are left alone since research answers are full of them.
func ForLearnedContent() *Guardrails {
	return New(
		WithPromptInjectionDetector(),
		WithPIIFilter(PIIFilterMask, WithPIITypes(PIITypeEmail, PIITypePhone, PIITypeCreditCard, PIITypeSSN)),
	)
}

// WithInputChecker adds a checker.
func WithInputChecker(c InputChecker) Option {
	return func(g *Guardrails) { g.checkers = append(g.checkers, c) }
}

// WithOutputFilter adds a filter.
func WithOutputFilter(f OutputFilter) Option {
	return func(g *Guardrails) { g.filters = append(g.filters, f) }
}

// CheckInput returns the first blocking verdict. A canceled context blocks.
func (g *Guardrails) CheckInput(ctx context.Context, input string) CheckResult {
	for _, c := range g.checkers {
		if ctx.Err() != nil {
			return CheckResult{Blocked: true, Reason: "guardrail check canceled", GuardrailID: "system"}
		}
		if res := c.CheckInput(ctx, input); res.Blocked {
			res.GuardrailID = c.ID()
			return res
		}
	}
	return CheckResult{}
}

// FilterOutput chains the filters, each seeing the previous one's output.
func (g *Guardrails) FilterOutput(ctx context.Context, output string) FilterResult {
	result := FilterResult{Content: output}
	for _, f := range g.filters {
		if ctx.Err() != nil {
			return result
		}
		res := f.FilterOutput(ctx, result.Content)
		if res.Modified {
			result.Content = res.Content
			result.Modified = true
			result.Redactions = append(result.Redactions, res.Redactions...)
		}
	}
	return result
}

// Screen checks text and returns the filtered version. Blocked text yields a
// CodeContentBlocked error naming the guardrail.
func (g *Guardrails) Screen(ctx context.Context, text string) (string, error) {
	if res := g.CheckInput(ctx, text); res.Blocked {
		ke := errors.New(errors.CodeContentBlocked, "content blocked: "+res.Reason, nil).
			WithContext("guardrail", res.GuardrailID)
		if len(res.Matches) > 0 {
			ke = ke.WithContext("matches", strings.Join(res.Matches, ", "))
		}
		return "", ke
	}
	return g.FilterOutput(ctx, text).Content, nil
}
