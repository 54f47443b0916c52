// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package guardrails

import (
	"context"
	"regexp"
)

// Instructions addressed to a model. One match blocks.
var strongInjectionPatterns = []string{
	`(?i)(ignore|disregard|forget|override)\s+(all\s+)?(the\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?)`,
	`(?i)(reveal|print|show\s+me|display)\s+your\s+(system\s+)?(prompt|instructions?)`,
	`(?i)\]\]\s*system\s*:`,
	`<\|[a-z_]+\|>`,
	`\[/?INST\]`,
	`<</?SYS>>`,
}

// Phrases that also show up in ordinary prose. They only block together.
var weakInjectionPatterns = []string{
	`(?i)\byou\s+are\s+now\s+(a|an)\s+`,
	`(?i)\bpretend\s+(you\s+are|to\s+be)\s+`,
	`(?i)\broleplay\s+as\s+`,
	`(?i)\bdo\s+anything\s+now\b`,
	`(?i)\bDAN\s+mode\b`,
	`(?i)\bjailbreak`,
	`(?i)\bbypass\s+(the\s+)?(safety|content|filter)`,
	`(?i)\b(developer|sudo|admin|god)\s+mode\b`,
	`(?i)\bas\s+an\s+ai\s+(language\s+)?model\b`,
}

// PromptInjectionDetector flags text that tries to steer the model that will
// later read it.
type PromptInjectionDetector struct {
	strong    []*regexp.Regexp
	weak      []*regexp.Regexp
	threshold float64
}

// PromptInjectionOption configures the detector.
type PromptInjectionOption func(*PromptInjectionDetector)

// NewPromptInjectionDetector compiles the built-in patterns. By default two
// weak matches, or one strong match, block.
func NewPromptInjectionDetector(opts ...PromptInjectionOption) *PromptInjectionDetector {
	d := &PromptInjectionDetector{
		strong:    compileAll(strongInjectionPatterns),
		weak:      compileAll(weakInjectionPatterns),
		threshold: 0.7,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// WithInjectionPatterns adds patterns that block on a single match.
// Invalid expressions are skipped.
func WithInjectionPatterns(patterns ...string) PromptInjectionOption {
	return func(d *PromptInjectionDetector) {
		d.strong = append(d.strong, compileAll(patterns)...)
	}
}

// WithInjectionThreshold sets the confidence at which weak matches block.
func WithInjectionThreshold(threshold float64) PromptInjectionOption {
	return func(d *PromptInjectionDetector) {
		if threshold > 0 && threshold <= 1 {
			d.threshold = threshold
		}
	}
}

func (d *PromptInjectionDetector) ID() string { return "prompt-injection" }

// CheckInput scores input. A weak match is worth 0.5 and each further one 0.2.
func (d *PromptInjectionDetector) CheckInput(ctx context.Context, input string) CheckResult {
	if input == "" {
		return CheckResult{}
	}
	for _, re := range d.strong {
		if loc := re.FindString(input); loc != "" {
			return CheckResult{
				Blocked:    true,
				Reason:     "potential prompt injection detected",
				Confidence: 1,
				Matches:    []string{loc},
			}
		}
	}

	var matches []string
	for _, re := range d.weak {
		if ctx.Err() != nil {
			break
		}
		if loc := re.FindString(input); loc != "" {
			matches = append(matches, loc)
		}
	}
	if len(matches) == 0 {
		return CheckResult{}
	}
	confidence := min(0.5+0.2*float64(len(matches)-1), 1)
	return CheckResult{
		Blocked:    confidence+1e-9 >= d.threshold,
		Reason:     "potential prompt injection detected",
		Confidence: confidence,
		Matches:    matches,
	}
}

// WithPromptInjectionDetector adds a detector to the checkers.
func WithPromptInjectionDetector(opts ...PromptInjectionOption) Option {
	return WithInputChecker(NewPromptInjectionDetector(opts...))
}

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			out = append(out, re)
		}
	}
	return out
}
