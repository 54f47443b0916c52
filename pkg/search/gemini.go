// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package search

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/jllopis/kaiba/pkg/errors"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// NoAnswer is the answer recorded when the model returns no text.
const NoAnswer = "Google Search returned no answer"

// GeminiSearcher answers queries with Gemini grounded on Google Search.
type GeminiSearcher struct {
	models    *genai.Models
	model     string
	sanitizer *Sanitizer
}

// NewGeminiSearcher creates a searcher. An empty apiKey falls back to GOOGLE_API_KEY or GEMINI_API_KEY.
func NewGeminiSearcher(ctx context.Context, apiKey, model string) (*GeminiSearcher, error) {
	var cfg *genai.ClientConfig
	if apiKey != "" {
		cfg = &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiSearcher{models: client.Models, model: model, sanitizer: NewSanitizer()}, nil
}

// Search asks the model with the google_search tool enabled.
func (g *GeminiSearcher) Search(ctx context.Context, query string) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	config := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(query), config)
	if err != nil {
		return nil, mapAPIError(err)
	}
	out := &Result{
		Query:      query,
		Answer:     extractAnswer(resp),
		References: extractReferences(resp),
	}
	g.sanitizer.Clean(out)
	if out.Answer == "" {
		out.Answer = NoAnswer
	}
	return out, nil
}

func extractAnswer(resp *genai.GenerateContentResponse) string {
	var collected []string
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if text := strings.TrimSpace(part.Text); text != "" {
				collected = append(collected, text)
			}
		}
	}
	return strings.Join(collected, "\n\n")
}

// extractReferences collects web grounding chunks, deduplicated by URL.
func extractReferences(resp *genai.GenerateContentResponse) []Reference {
	seen := make(map[string]struct{})
	var refs []Reference
	for _, c := range resp.Candidates {
		if c == nil || c.GroundingMetadata == nil {
			continue
		}
		for _, chunk := range c.GroundingMetadata.GroundingChunks {
			if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" {
				continue
			}
			url := chunk.Web.URI
			if _, dup := seen[url]; dup {
				continue
			}
			seen[url] = struct{}{}
			title := chunk.Web.Title
			if title == "" {
				title = url
			}
			refs = append(refs, Reference{Title: title, URL: url})
		}
	}
	return refs
}

func mapAPIError(err error) error {
	code, msg, ok := apiStatus(err)
	if !ok {
		return errors.New(errors.CodeSearchError, "search request failed", err).WithRecoverable(true)
	}
	if code == http.StatusTooManyRequests {
		return errors.New(errors.CodeRateLimit, "search rate limited", err).WithRecoverable(true)
	}
	return errors.New(errors.CodeSearchError, msg, err).
		WithContext("status", code).
		WithRecoverable(code >= http.StatusInternalServerError)
}

// apiStatus extracts the HTTP status of a Gemini API error, returned either by value or by pointer.
func apiStatus(err error) (int, string, bool) {
	var byValue genai.APIError
	if stderrors.As(err, &byValue) {
		return byValue.Code, byValue.Message, true
	}
	var byPtr *genai.APIError
	if stderrors.As(err, &byPtr) && byPtr != nil {
		return byPtr.Code, byPtr.Message, true
	}
	return 0, "", false
}

var _ Searcher = (*GeminiSearcher)(nil)
