// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package core

import "time"

// MemoryType classifies a Rei memory.
type MemoryType string

const (
	MemoryConversation MemoryType = "conversation"
	MemoryLearning     MemoryType = "learning"
	MemoryFact         MemoryType = "fact"
	MemoryExpertise    MemoryType = "expertise"
	MemoryReflection   MemoryType = "reflection"
)

// Valid reports whether t is a known memory type.
func (t MemoryType) Valid() bool {
	switch t {
	case MemoryConversation, MemoryLearning, MemoryFact, MemoryExpertise, MemoryReflection:
		return true
	}
	return false
}

// Memory is a single item of a Rei's vector memory.
type Memory struct {
	ID         string     `json:"id"`
	ReiID      string     `json:"rei_id"`
	Content    string     `json:"content"`
	Type       MemoryType `json:"memory_type"`
	Importance float32    `json:"importance"`
	Tags       []string   `json:"tags,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	Score      float32    `json:"score,omitempty"`
}
