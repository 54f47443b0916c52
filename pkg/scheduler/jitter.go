// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"math/rand/v2"
	"sync"
	"time"
)

// JitterSource draws pauses from a seeded PCG generator. Two sources with the
// same seed yield the same sequence. Safe for concurrent use.
type JitterSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewJitterSource creates a source seeded with seed.
func NewJitterSource(seed uint64) *JitterSource {
	return &JitterSource{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewRandomJitterSource creates a source seeded from the runtime generator.
func NewRandomJitterSource() *JitterSource {
	return NewJitterSource(rand.Uint64())
}

// Next returns a duration in [0, max). A non-positive max yields zero.
func (j *JitterSource) Next(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return time.Duration(j.rnd.Int64N(int64(max)))
}
