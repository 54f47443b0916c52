// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package qdrant

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jllopis/kaiba/pkg/core"
	"github.com/jllopis/kaiba/pkg/memory"
)

func TestPayloadValueRoundTrip(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	in := core.Memory{
		ID:         "5b0e0b1e-0000-4000-8000-000000000001",
		ReiID:      "rei-1",
		Content:    "## Query: rust",
		Type:       core.MemoryLearning,
		Importance: 0.7,
		Tags:       []string{"self_learning", "auto_generated"},
		CreatedAt:  created,
	}
	payload := map[string]any{}
	for k, v := range memory.ToPayload(in) {
		got, ok := fromValue(toValue(v))
		if !ok {
			t.Fatalf("key %s did not survive conversion", k)
		}
		payload[k] = got
	}
	out := memory.FromPayload(in.ID, 0.9, payload)
	in.Score = 0.9
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("memory mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildFilter(t *testing.T) {
	if buildFilter(memory.Filter{}) != nil {
		t.Fatalf("expected nil filter for empty conditions")
	}

	since := time.UnixMilli(1000)
	f := buildFilter(memory.Filter{
		Type:         core.MemoryLearning,
		CreatedAfter: &since,
		Tags:         []string{"a", "b"},
	})
	if len(f.Must) != 2 {
		t.Fatalf("expected 2 must conditions, got %d", len(f.Must))
	}
	if len(f.Should) != 2 {
		t.Fatalf("expected tags as should conditions, got %d", len(f.Should))
	}
	field := f.Must[1].GetField()
	if field.GetKey() != memory.KeyCreatedAt || field.GetRange().GetGt() != 1000 {
		t.Errorf("unexpected created_at condition: %v", field)
	}

	all := buildFilter(memory.Filter{Tags: []string{"a", "b"}, MatchAllTags: true})
	if len(all.Must) != 2 || len(all.Should) != 0 {
		t.Errorf("expected all tags as must conditions, got %d must %d should", len(all.Must), len(all.Should))
	}
}
