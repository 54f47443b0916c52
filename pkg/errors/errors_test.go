// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("connection refused")
	ke := New(CodeMemoryError, "qdrant search failed", cause)

	if ke.Code != CodeMemoryError {
		t.Errorf("expected CodeMemoryError, got %v", ke.Code)
	}
	if ke.Message != "qdrant search failed" {
		t.Errorf("unexpected message %q", ke.Message)
	}
	if !errors.Is(ke, cause) {
		t.Errorf("expected errors.Is to work with wrapped error")
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		name     string
		ke       *KaibaError
		expected string
	}{
		{
			name:     "with cause",
			ke:       New(CodeTimeout, "operation timed out", errors.New("deadline exceeded")),
			expected: "[TIMEOUT] operation timed out: deadline exceeded",
		},
		{
			name:     "without cause",
			ke:       New(CodeNotFound, "webhook not found", nil),
			expected: "[NOT_FOUND] webhook not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ke.Error(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{CodeNotFound, http.StatusNotFound},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeInvalidInput, http.StatusBadRequest},
		{CodeUnavailable, http.StatusServiceUnavailable},
		{CodeTimeout, http.StatusRequestTimeout},
		{CodeRateLimit, http.StatusTooManyRequests},
		{CodeContentBlocked, http.StatusUnprocessableEntity},
		{CodeRepository, http.StatusInternalServerError},
		{CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := New(tt.code, "x", nil).StatusCode; got != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.code, tt.want, got)
		}
	}
}

func TestAsKaibaErrorThroughWrap(t *testing.T) {
	ke := New(CodeNotFound, "rei not found", nil)
	wrapped := fmt.Errorf("load state: %w", ke)

	got := AsKaibaError(wrapped)
	if got != ke {
		t.Fatalf("expected the original error to be found in the chain")
	}
	if !HasCode(wrapped, CodeNotFound) {
		t.Fatalf("expected HasCode to see NOT_FOUND")
	}

	plain := AsKaibaError(errors.New("boom"))
	if plain.Code != CodeInternal {
		t.Fatalf("expected plain errors to be wrapped as internal, got %s", plain.Code)
	}
	if AsKaibaError(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestIsRecoverable(t *testing.T) {
	if IsRecoverable(nil) {
		t.Errorf("nil must not be recoverable")
	}
	if !IsRecoverable(errors.New("transient")) {
		t.Errorf("plain errors default to recoverable")
	}
	if IsRecoverable(New(CodeInvalidInput, "bad", nil)) {
		t.Errorf("typed errors default to not recoverable")
	}
	if !IsRecoverable(New(CodeRateLimit, "slow down", nil).WithRecoverable(true)) {
		t.Errorf("expected explicit recoverable flag to be honoured")
	}
}

func TestMarshalJSON(t *testing.T) {
	ke := New(CodeSearchError, "search failed", errors.New("429")).WithContext("query", "go generics")
	data, err := json.Marshal(ke)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["code"] != "SEARCH_ERROR" {
		t.Errorf("unexpected code %v", out["code"])
	}
	if out["error"] != "429" {
		t.Errorf("unexpected cause %v", out["error"])
	}
	ctx, _ := out["context"].(map[string]any)
	if ctx["query"] != "go generics" {
		t.Errorf("expected context to be serialized, got %v", out["context"])
	}
}
