// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// EventKind is the tag of an EventType.
type EventKind string

const (
	KindResponseCompleted EventKind = "response_completed"
	KindStateChanged      EventKind = "state_changed"
	KindMemoryAdded       EventKind = "memory_added"
	KindSearchCompleted   EventKind = "search_completed"
	KindLearningCompleted EventKind = "learning_completed"
	KindAll               EventKind = "all"
	KindCustom            EventKind = "custom"
)

// EventType identifies an event a webhook can subscribe to.
// Name is only set for KindCustom. Two event types match when they are equal.
type EventType struct {
	Kind EventKind
	Name string
}

// Well-known event types.
var (
	EventResponseCompleted = EventType{Kind: KindResponseCompleted}
	EventStateChanged      = EventType{Kind: KindStateChanged}
	EventMemoryAdded       = EventType{Kind: KindMemoryAdded}
	EventSearchCompleted   = EventType{Kind: KindSearchCompleted}
	EventLearningCompleted = EventType{Kind: KindLearningCompleted}
	EventAll               = EventType{Kind: KindAll}
)

// Custom returns a user-defined event type.
func Custom(name string) EventType {
	return EventType{Kind: KindCustom, Name: name}
}

// String returns the kind, or custom:<name> for custom events.
func (e EventType) String() string {
	if e.Kind == KindCustom {
		return "custom:" + e.Name
	}
	return string(e.Kind)
}

// ParseEventType maps a string to an event type. Unknown strings become custom events.
func ParseEventType(s string) EventType {
	switch k := EventKind(s); k {
	case KindResponseCompleted, KindStateChanged, KindMemoryAdded,
		KindSearchCompleted, KindLearningCompleted, KindAll:
		return EventType{Kind: k}
	}
	if name, ok := strings.CutPrefix(s, "custom:"); ok {
		return Custom(name)
	}
	return Custom(s)
}

// ParseEventTypes parses a subscription list. An empty list subscribes to everything.
func ParseEventTypes(in []string) []EventType {
	if len(in) == 0 {
		return []EventType{EventAll}
	}
	out := make([]EventType, 0, len(in))
	for _, s := range in {
		out = append(out, ParseEventType(s))
	}
	return out
}

// EventStrings renders a subscription list.
func EventStrings(events []EventType) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.String())
	}
	return out
}

// MarshalJSON encodes well-known kinds as a string and custom events as {"custom":"name"}.
func (e EventType) MarshalJSON() ([]byte, error) {
	if e.Kind == KindCustom {
		return json.Marshal(map[string]string{"custom": e.Name})
	}
	if e.Kind == "" {
		return nil, fmt.Errorf("webhook: empty event kind")
	}
	return json.Marshal(string(e.Kind))
}

// UnmarshalJSON accepts both encodings produced by MarshalJSON and the custom:<name> form.
func (e *EventType) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = ParseEventType(s)
		return nil
	}
	var obj map[string]string
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("webhook: invalid event type: %w", err)
	}
	name, ok := obj["custom"]
	if !ok || len(obj) != 1 {
		return fmt.Errorf("webhook: invalid event type %s", string(data))
	}
	*e = Custom(name)
	return nil
}
