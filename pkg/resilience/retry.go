// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"time"

	"github.com/jllopis/kaiba/pkg/errors"
)

// RetryConfig controls retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (must be >= 1).
	MaxAttempts int

	// Backoff is the delay schedule between attempts.
	Backoff Backoff

	// IsRecoverable determines if an error should be retried.
	// If nil, errors.IsRecoverable is used.
	IsRecoverable func(error) bool

	// Sleep waits between attempts. Tests replace it to avoid real timers.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryConfig returns the configuration used for embedder and search calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Backoff:     Backoff{Base: 200 * time.Millisecond, Max: 5 * time.Second},
	}
}

// WithMaxAttempts returns a new config with MaxAttempts set.
func (rc RetryConfig) WithMaxAttempts(max int) RetryConfig {
	rc.MaxAttempts = max
	return rc
}

// WithBackoff returns a new config with the delay schedule set.
func (rc RetryConfig) WithBackoff(b Backoff) RetryConfig {
	rc.Backoff = b
	return rc
}

// WithIsRecoverable returns a new config with IsRecoverable set.
func (rc RetryConfig) WithIsRecoverable(fn func(error) bool) RetryConfig {
	rc.IsRecoverable = fn
	return rc
}

// Do executes fn with retry logic, returning the last error if all attempts fail.
func (rc RetryConfig) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Retry(ctx, rc, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Retry executes fn until it succeeds, returns a non-recoverable error, or
// MaxAttempts is reached.
func Retry[T any](ctx context.Context, rc RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = 1
	}
	if rc.IsRecoverable == nil {
		rc.IsRecoverable = errors.IsRecoverable
	}
	if rc.Sleep == nil {
		rc.Sleep = Sleep
	}

	var (
		zero    T
		lastErr error
		delay   = rc.Backoff.First()
	)
	for attempt := 0; attempt < rc.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := rc.Sleep(ctx, delay); err != nil {
				return zero, errors.New(errors.CodeTimeout, "context canceled during retry", err).
					WithContext("attempt", attempt).
					WithContext("max_attempts", rc.MaxAttempts).
					WithContext("last_error", lastErr.Error())
			}
			delay = rc.Backoff.Next(delay)
		}

		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !rc.IsRecoverable(err) {
			return zero, err
		}
	}
	return zero, lastErr
}
