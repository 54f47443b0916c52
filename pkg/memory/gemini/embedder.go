// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

// Package gemini embeds text with the Gemini embedding models.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/jllopis/kaiba/pkg/memory"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-embedding-001"

// Embedder implements memory.Embedder with the Gemini API.
type Embedder struct {
	client *genai.Client
	model  string
	// dimension, when positive, truncates the output vector.
	dimension int32
}

// Option configures the Embedder.
type Option func(*Embedder)

// WithDimension requests vectors of the given size.
func WithDimension(n int) Option {
	return func(e *Embedder) { e.dimension = int32(n) }
}

// NewEmbedder creates an embedder. An empty apiKey falls back to GOOGLE_API_KEY or GEMINI_API_KEY.
func NewEmbedder(ctx context.Context, apiKey, model string, opts ...Option) (*Embedder, error) {
	var cfg *genai.ClientConfig
	if apiKey != "" {
		cfg = &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	e := &Embedder{client: client, model: model}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Embed converts a text string into a vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	config := &genai.EmbedContentConfig{TaskType: "RETRIEVAL_DOCUMENT"}
	if e.dimension > 0 {
		dim := e.dimension
		config.OutputDimensionality = &dim
	}
	result, err := e.client.Models.EmbedContent(ctx, e.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, config)
	if err != nil {
		return nil, fmt.Errorf("gemini embed failed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}

var _ memory.Embedder = (*Embedder)(nil)
