// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"strings"
	"time"

	"github.com/jeranaias/edgeroute/internal/metrics"
)

// ============================================================================
// CONVERSATION CONTEXT
// ============================================================================

// Turn is one message in a conversation.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Venue     string    `json:"venue,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Transition records a change of venue within a conversation.
type Transition struct {
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from_location"`
	To        string    `json:"to_location"`
}

// ConversationContext is caller-owned conversation state. The router only
// appends transitions to it; callers sharing a context across goroutines
// must serialize writes themselves (see internal/session).
type ConversationContext struct {
	ID          string       `json:"id,omitempty"`
	History     []Turn       `json:"history"`
	Transitions []Transition `json:"transitions"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// NewConversationContext returns an empty context.
func NewConversationContext(id string) *ConversationContext {
	now := time.Now()
	return &ConversationContext{
		ID:          id,
		History:     []Turn{},
		Transitions: []Transition{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// AddTurn appends a message. venue may be empty.
func (c *ConversationContext) AddTurn(role, content, venue string) {
	now := time.Now()
	c.History = append(c.History, Turn{Role: role, Content: content, Venue: venue, Timestamp: now})
	c.UpdatedAt = now
}

// LastVenue returns the venue of the most recent turn that has one.
func (c *ConversationContext) LastVenue() string {
	for i := len(c.History) - 1; i >= 0; i-- {
		if c.History[i].Venue != "" {
			return c.History[i].Venue
		}
	}
	return ""
}

// Clone returns a deep copy.
func (c *ConversationContext) Clone() *ConversationContext {
	if c == nil {
		return nil
	}
	out := *c
	out.History = append([]Turn(nil), c.History...)
	out.Transitions = append([]Transition(nil), c.Transitions...)
	if out.History == nil {
		out.History = []Turn{}
	}
	if out.Transitions == nil {
		out.Transitions = []Transition{}
	}
	return &out
}

// ============================================================================
// TRANSITIONS
// ============================================================================

// TransitionMetadata describes one RecordTransition call.
type TransitionMetadata struct {
	Elapsed          time.Duration `json:"-"`
	TransitionTimeMS float64       `json:"transition_time_ms"`
}

// RecordTransition appends a venue change to cc and returns it. A nil cc is
// replaced by a fresh context. Entries are never reordered or deduplicated.
func RecordTransition(from, to Venue, cc *ConversationContext) (*ConversationContext, TransitionMetadata) {
	return appendTransition(from.String(), to.String(), cc)
}

// RecordTransitionNames is RecordTransition for venue names that may come
// from outside the program. Recognized names are stored in canonical form;
// anything else is stored trimmed but otherwise as given.
func RecordTransitionNames(from, to string, cc *ConversationContext) (*ConversationContext, TransitionMetadata) {
	return appendTransition(CanonicalVenueName(from), CanonicalVenueName(to), cc)
}

// CanonicalVenueName normalizes a venue name.
func CanonicalVenueName(name string) string {
	if v, ok := ParseVenue(name); ok {
		return v.String()
	}
	return strings.TrimSpace(name)
}

func appendTransition(from, to string, cc *ConversationContext) (*ConversationContext, TransitionMetadata) {
	start := time.Now()
	if cc == nil {
		cc = NewConversationContext("")
	}
	cc.Transitions = append(cc.Transitions, Transition{Timestamp: start, From: from, To: to})
	cc.UpdatedAt = start

	elapsed := time.Since(start)
	return cc, TransitionMetadata{
		Elapsed:          elapsed,
		TransitionTimeMS: float64(elapsed.Microseconds()) / 1000,
	}
}

// RecordTransition is the package-level RecordTransition with event
// logging and metrics.
func (r *Router) RecordTransition(from, to Venue, cc *ConversationContext) (*ConversationContext, TransitionMetadata) {
	return r.RecordTransitionNames(from.String(), to.String(), cc)
}

// RecordTransitionNames is the package-level RecordTransitionNames with
// event logging and metrics.
func (r *Router) RecordTransitionNames(from, to string, cc *ConversationContext) (*ConversationContext, TransitionMetadata) {
	cc, meta := RecordTransitionNames(from, to, cc)
	last := cc.Transitions[len(cc.Transitions)-1]

	r.events.LogEvent(EventTransition, map[string]any{
		"timestamp":       last.Timestamp.Format(time.RFC3339Nano),
		"from_location":   last.From,
		"to_location":     last.To,
		"conversation_id": cc.ID,
	})
	metrics.RecordTransition(last.From, last.To)
	return cc, meta
}
