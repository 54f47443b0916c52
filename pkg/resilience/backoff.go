// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

// Package resilience provides backoff, retry and circuit breaking for calls to
// external services such as webhook endpoints, embedders and search agents.
package resilience

import (
	"context"
	"time"
)

// Backoff is a doubling delay schedule with a ceiling.
type Backoff struct {
	// Base is the delay before the first retry.
	Base time.Duration

	// Max caps every delay.
	Max time.Duration
}

// DefaultBackoff is the schedule used for webhook redelivery.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: 60 * time.Second}
}

// First returns the initial delay, capped.
func (b Backoff) First() time.Duration {
	if b.Base < 0 {
		return 0
	}
	if b.Max > 0 && b.Base > b.Max {
		return b.Max
	}
	return b.Base
}

// Next doubles d and caps it at Max. A non-positive Max disables the cap.
func (b Backoff) Next(d time.Duration) time.Duration {
	next := d * 2
	if next < d {
		// overflow
		next = d
	}
	if b.Max > 0 && next > b.Max {
		return b.Max
	}
	return next
}

// Delays returns the delays slept before retries 1..n.
func (b Backoff) Delays(n int) []time.Duration {
	if n <= 0 {
		return nil
	}
	out := make([]time.Duration, 0, n)
	d := b.First()
	for i := 0; i < n; i++ {
		out = append(out, d)
		d = b.Next(d)
	}
	return out
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
