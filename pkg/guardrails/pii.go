// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package guardrails

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"slices"
	"strings"
)

// PIIFilterMode selects what replaces a match.
type PIIFilterMode int

const (
	// PIIFilterMask replaces a match with a placeholder such as [EMAIL].
	PIIFilterMask PIIFilterMode = iota
	// PIIFilterRedact removes the match.
	PIIFilterRedact
	// PIIFilterHash replaces a match with a placeholder carrying a short hash,
	// so repeated values can be correlated without being stored.
	PIIFilterHash
)

// PIIType names a kind of personal data.
type PIIType string

const (
	PIITypeEmail      PIIType = "email"
	PIITypePhone      PIIType = "phone"
	PIITypeSSN        PIIType = "ssn"
	PIITypeCreditCard PIIType = "credit_card"
	PIITypeIPAddress  PIIType = "ip_address"
)

type piiPattern struct {
	typ     PIIType
	pattern *regexp.Regexp
	mask    string
}

// Order matters: card numbers before SSNs before phones, since they overlap.
var defaultPIIPatterns = []piiPattern{
	{PIITypeCreditCard, regexp.MustCompile(`\b[0-9]{4}[-\s]?[0-9]{4}[-\s]?[0-9]{4}[-\s]?[0-9]{4}\b`), "[CREDIT_CARD]"},
	{PIITypeSSN, regexp.MustCompile(`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`), "[SSN]"},
	{PIITypeEmail, regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), "[EMAIL]"},
	{PIITypePhone, regexp.MustCompile(`(?:\+[0-9]{1,3}[-.\s]?)?\(?[0-9]{3}\)?[-.\s][0-9]{3}[-.\s][0-9]{4}\b`), "[PHONE]"},
	{PIITypeIPAddress, regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`), "[IP_ADDRESS]"},
}

// PIIFilter masks personal data.
type PIIFilter struct {
	mode     PIIFilterMode
	patterns []piiPattern
}

// PIIFilterOption configures a PIIFilter.
type PIIFilterOption func(*PIIFilter)

// NewPIIFilter filters every built-in type unless narrowed with WithPIITypes.
func NewPIIFilter(mode PIIFilterMode, opts ...PIIFilterOption) *PIIFilter {
	f := &PIIFilter{mode: mode, patterns: slices.Clone(defaultPIIPatterns)}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithPIITypes keeps only the listed types.
func WithPIITypes(types ...PIIType) PIIFilterOption {
	return func(f *PIIFilter) {
		f.patterns = slices.DeleteFunc(f.patterns, func(p piiPattern) bool {
			return !slices.Contains(types, p.typ)
		})
	}
}

// WithCustomPIIPattern adds a pattern. Invalid expressions are skipped.
func WithCustomPIIPattern(typ PIIType, pattern, mask string) PIIFilterOption {
	return func(f *PIIFilter) {
		if re, err := regexp.Compile(pattern); err == nil {
			f.patterns = append(f.patterns, piiPattern{typ: typ, pattern: re, mask: mask})
		}
	}
}

func (f *PIIFilter) ID() string { return "pii-filter" }

// FilterOutput replaces every match. Positions refer to the text each pattern saw.
func (f *PIIFilter) FilterOutput(ctx context.Context, output string) FilterResult {
	result := FilterResult{Content: output}
	for _, p := range f.patterns {
		if ctx.Err() != nil {
			return result
		}
		matches := p.pattern.FindAllStringIndex(result.Content, -1)
		// Back to front so earlier offsets stay valid.
		for i := len(matches) - 1; i >= 0; i-- {
			start, end := matches[i][0], matches[i][1]
			replacement := f.replacement(p, result.Content[start:end])
			result.Redactions = append(result.Redactions, Redaction{
				Type:        string(p.typ),
				Replacement: replacement,
				Position:    start,
			})
			result.Content = result.Content[:start] + replacement + result.Content[end:]
			result.Modified = true
		}
	}
	return result
}

func (f *PIIFilter) replacement(p piiPattern, original string) string {
	switch f.mode {
	case PIIFilterRedact:
		return ""
	case PIIFilterHash:
		h := fnv.New32a()
		_, _ = h.Write([]byte(original))
		return fmt.Sprintf("%s_%08X]", strings.TrimSuffix(p.mask, "]"), h.Sum32())
	default:
		return p.mask
	}
}

// WithPIIFilter adds a PII filter.
func WithPIIFilter(mode PIIFilterMode, opts ...PIIFilterOption) Option {
	return WithOutputFilter(NewPIIFilter(mode, opts...))
}
