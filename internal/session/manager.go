// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/edgeroute/internal/router"
)

// Manager serializes writes per conversation over a Store.
type Manager struct {
	store  Store
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*convLock
}

type convLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for store failures.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager wraps store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		logger: zap.NewNop(),
		locks:  make(map[string]*convLock),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the underlying store.
func (m *Manager) Store() Store {
	return m.store
}

// Create stores a new empty conversation with a random ID.
func (m *Manager) Create(ctx context.Context) (*router.ConversationContext, error) {
	cc := router.NewConversationContext(uuid.NewString())
	if err := m.store.Save(ctx, cc); err != nil {
		return nil, err
	}
	return cc.Clone(), nil
}

// Get returns a copy of a stored conversation.
func (m *Manager) Get(ctx context.Context, id string) (*router.ConversationContext, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	return m.store.Load(ctx, id)
}

// Update loads the conversation (creating it if absent), applies fn under
// the conversation's lock and saves the result. If fn returns an error
// nothing is saved. The returned context is a copy.
func (m *Manager) Update(ctx context.Context, id string, fn func(*router.ConversationContext) error) (*router.ConversationContext, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	unlock := m.lock(id)
	defer unlock()

	cc, err := m.store.Load(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		cc = router.NewConversationContext(id)
	case err != nil:
		m.logger.Warn("conversation load failed", zap.String("conversation_id", id), zap.Error(err))
		return nil, err
	}

	if err := fn(cc); err != nil {
		return nil, err
	}
	if err := m.store.Save(ctx, cc); err != nil {
		m.logger.Warn("conversation save failed", zap.String("conversation_id", id), zap.Error(err))
		return nil, err
	}
	return cc.Clone(), nil
}

// Delete removes a conversation.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	unlock := m.lock(id)
	defer unlock()
	return m.store.Delete(ctx, id)
}

// lock acquires the per-conversation mutex. Entries are dropped once no
// goroutine holds or waits on them.
func (m *Manager) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &convLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}
