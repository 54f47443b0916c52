// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

// Package search answers web queries for self-learning Reis.
package search

import (
	"context"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/jllopis/kaiba/pkg/errors"
)

// Reference is a grounding source returned with an answer.
type Reference struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
	Source  string `json:"source,omitempty"`
}

// Result is the answer to one query.
type Result struct {
	Query      string      `json:"query"`
	Answer     string      `json:"answer"`
	References []Reference `json:"references"`
}

// Searcher answers a query with text and references.
type Searcher interface {
	Search(ctx context.Context, query string) (*Result, error)
}

// ErrEmptyQuery is returned for blank queries.
var ErrEmptyQuery = errors.New(errors.CodeInvalidInput, "search query cannot be empty", nil)

// Sanitizer strips markup from search answers before they are stored as memories.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer returns a sanitizer that keeps plain text only.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

// Text removes every HTML element from s and returns readable text.
func (s *Sanitizer) Text(in string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(in)))
}

// Clean sanitises every text field of r in place.
func (s *Sanitizer) Clean(r *Result) {
	if r == nil {
		return
	}
	r.Answer = s.Text(r.Answer)
	for i := range r.References {
		ref := &r.References[i]
		ref.Title = s.Text(ref.Title)
		ref.Snippet = s.Text(ref.Snippet)
		ref.Source = s.Text(ref.Source)
	}
}
