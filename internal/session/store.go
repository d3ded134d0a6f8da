// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"regexp"
	"sync"

	"github.com/jeranaias/edgeroute/internal/router"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrNotFound is returned when a conversation does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &Error{Message: "conversation not found"}

// ErrInvalidID is returned for IDs that are empty or unsafe as keys.
var ErrInvalidID = &Error{Message: "invalid conversation id"}

// Error is a session error comparable with errors.Is.
type Error struct {
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is a session error with the same message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// idPattern admits UUIDs and other simple client-chosen IDs. It keeps IDs
// safe as file names and redis keys.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateID returns ErrInvalidID unless id is usable as a storage key.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return ErrInvalidID
	}
	return nil
}

// =============================================================================
// STORE
// =============================================================================

// Store persists conversation contexts. Implementations must be safe for
// concurrent use, must return copies the caller may modify, and must
// return ErrNotFound for unknown IDs.
type Store interface {
	Load(ctx context.Context, id string) (*router.ConversationContext, error)
	Save(ctx context.Context, cc *router.ConversationContext) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps conversations in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*router.ConversationContext
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]*router.ConversationContext)}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, id string) (*router.ConversationContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cc, ok := s.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cc.Clone(), nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, cc *router.ConversationContext) error {
	if err := ValidateID(cc.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[cc.ID] = cc.Clone()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		return ErrNotFound
	}
	delete(s.convs, id)
	return nil
}
