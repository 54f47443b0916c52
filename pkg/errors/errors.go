// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed error handling with rich context for Kaiba.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies Kaiba errors for monitoring and HTTP mapping.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeUnauthorized indicates authorization failed.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeUnavailable indicates a required collaborator is not configured.
	CodeUnavailable ErrorCode = "UNAVAILABLE"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeRateLimit indicates rate limiting was triggered.
	CodeRateLimit ErrorCode = "RATE_LIMITED"

	// CodeMemoryError indicates a vector memory or embedding error.
	CodeMemoryError ErrorCode = "MEMORY_ERROR"

	// CodeLLMError indicates an LLM provider error.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeSearchError indicates a web search error.
	CodeSearchError ErrorCode = "SEARCH_ERROR"

	// CodeRepository indicates a persistence error.
	CodeRepository ErrorCode = "REPOSITORY_ERROR"

	// CodeContentBlocked indicates text rejected by a guardrail.
	CodeContentBlocked ErrorCode = "CONTENT_BLOCKED"
)

// KaibaError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type KaibaError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *KaibaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *KaibaError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *KaibaError) MarshalJSON() ([]byte, error) {
	out := struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Err         string                 `json:"error,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Recoverable bool                   `json:"recoverable"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Context:     e.Context,
		Recoverable: e.Recoverable,
	}
	if e.Err != nil {
		out.Err = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a new KaibaError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *KaibaError {
	return &KaibaError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		StatusCode: codeToStatusCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *KaibaError) WithContext(key string, value interface{}) *KaibaError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
func (e *KaibaError) WithRecoverable(recoverable bool) *KaibaError {
	e.Recoverable = recoverable
	return e
}

// AsKaibaError finds a KaibaError in the chain, or wraps err as internal.
func AsKaibaError(err error) *KaibaError {
	if err == nil {
		return nil
	}
	var ke *KaibaError
	if stderrors.As(err, &ke) {
		return ke
	}
	return New(CodeInternal, "unexpected error", err)
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	var ke *KaibaError
	if !stderrors.As(err, &ke) {
		return false
	}
	return ke.Code == code
}

// IsRecoverable reports whether err is marked recoverable.
// Errors that are not KaibaErrors are treated as recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var ke *KaibaError
	if stderrors.As(err, &ke) {
		return ke.Recoverable
	}
	return true
}

// codeToStatusCode maps error codes to HTTP status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeContentBlocked:
		return http.StatusUnprocessableEntity
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusRequestTimeout
	case CodeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
