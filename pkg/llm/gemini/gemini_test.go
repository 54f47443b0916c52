// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package gemini

import (
	"testing"

	"google.golang.org/genai"

	"github.com/jllopis/kaiba/pkg/llm"
)

func TestConvertMessages(t *testing.T) {
	contents, system := convertMessages([]llm.Message{
		{Role: llm.RoleSystem, Content: "You are a knowledge synthesizer."},
		{Role: llm.RoleUser, Content: "summarise"},
		{Role: llm.RoleAssistant, Content: "ok"},
	})
	if system != "You are a knowledge synthesizer." {
		t.Errorf("unexpected system instruction %q", system)
	}
	if len(contents) != 2 {
		t.Fatalf("expected 2 contents, got %d", len(contents))
	}
	if contents[0].Role != "user" || contents[0].Parts[0].Text != "summarise" {
		t.Errorf("unexpected user content %+v", contents[0])
	}
	if contents[1].Role != "model" {
		t.Errorf("expected assistant mapped to model, got %q", contents[1].Role)
	}
}

func TestConvertResponse(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: "Key "}, {Text: "themes"}}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     5,
			CandidatesTokenCount: 2,
			TotalTokenCount:      7,
		},
	}
	out := convertResponse(resp)
	if out.Content != "Key themes" {
		t.Errorf("unexpected content %q", out.Content)
	}
	if out.Usage.TotalTokens != 7 || out.Usage.PromptTokens != 5 {
		t.Errorf("unexpected usage %+v", out.Usage)
	}

	if empty := convertResponse(&genai.GenerateContentResponse{}); empty.Content != "" {
		t.Errorf("expected empty content, got %q", empty.Content)
	}
}
