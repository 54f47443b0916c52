// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"encoding/json"
	"time"
)

// Rei is an autonomous persona whose resources, memories and webhooks Kaiba manages.
type Rei struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Role      string    `json:"role" yaml:"role"`
	Avatar    string    `json:"avatar_url,omitempty" yaml:"avatar_url,omitempty"`
	Manifest  Manifest  `json:"manifest" yaml:"manifest"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Manifest is the persona configuration of a Rei.
// Keys it does not model are kept in Extra and survive a JSON round trip.
type Manifest struct {
	Interests      []string       `json:"interests,omitempty" yaml:"interests,omitempty"`
	LearningTopics []string       `json:"learning_topics,omitempty" yaml:"learning_topics,omitempty"`
	Curiosities    []string       `json:"curiosities,omitempty" yaml:"curiosities,omitempty"`
	Instructions   []string       `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	Quirks         []string       `json:"quirks,omitempty" yaml:"quirks,omitempty"`
	Extra          map[string]any `json:"-" yaml:"extra,omitempty"`
}

var manifestKeys = map[string]struct{}{
	"interests":       {},
	"learning_topics": {},
	"curiosities":     {},
	"instructions":    {},
	"quirks":          {},
}

type manifestFields struct {
	Interests      []string `json:"interests,omitempty"`
	LearningTopics []string `json:"learning_topics,omitempty"`
	Curiosities    []string `json:"curiosities,omitempty"`
	Instructions   []string `json:"instructions,omitempty"`
	Quirks         []string `json:"quirks,omitempty"`
}

// UnmarshalJSON decodes known keys into fields and keeps the rest in Extra.
// Known keys with an unexpected shape are ignored rather than rejected.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Manifest{}
	for key, val := range raw {
		if _, known := manifestKeys[key]; known {
			var list []string
			if err := json.Unmarshal(val, &list); err != nil {
				continue
			}
			switch key {
			case "interests":
				m.Interests = list
			case "learning_topics":
				m.LearningTopics = list
			case "curiosities":
				m.Curiosities = list
			case "instructions":
				m.Instructions = list
			case "quirks":
				m.Quirks = list
			}
			continue
		}
		var v any
		if err := json.Unmarshal(val, &v); err != nil {
			return err
		}
		if m.Extra == nil {
			m.Extra = make(map[string]any)
		}
		m.Extra[key] = v
	}
	return nil
}

// MarshalJSON merges Extra with the typed fields. Typed fields win on conflict.
func (m Manifest) MarshalJSON() ([]byte, error) {
	typed, err := json.Marshal(manifestFields{
		Interests:      m.Interests,
		LearningTopics: m.LearningTopics,
		Curiosities:    m.Curiosities,
		Instructions:   m.Instructions,
		Quirks:         m.Quirks,
	})
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return typed, nil
	}
	out := make(map[string]any, len(m.Extra)+len(manifestKeys))
	for k, v := range m.Extra {
		if _, known := manifestKeys[k]; known {
			continue
		}
		out[k] = v
	}
	var fields map[string]any
	if err := json.Unmarshal(typed, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		out[k] = v
	}
	return json.Marshal(out)
}

// LearningQueries returns the manifest topics in the order the learner consumes them:
// interests, then learning topics, then curiosities.
func (m Manifest) LearningQueries(interestSuffix string) []string {
	var out []string
	for _, interest := range m.Interests {
		if interestSuffix == "" {
			out = append(out, interest)
			continue
		}
		out = append(out, interest+" "+interestSuffix)
	}
	out = append(out, m.LearningTopics...)
	out = append(out, m.Curiosities...)
	return out
}

// ExtraString returns a string value from Extra, or def when absent or not a string.
func (m Manifest) ExtraString(key, def string) string {
	if v, ok := m.Extra[key].(string); ok {
		return v
	}
	return def
}
