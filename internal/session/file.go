// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jeranaias/edgeroute/internal/router"
	"github.com/jeranaias/edgeroute/internal/util"
)

// DefaultMaxConversations bounds a FileStore unless overridden.
const DefaultMaxConversations = 1000

// FileStore keeps one JSON file per conversation under BaseDir.
type FileStore struct {
	// BaseDir holds <id>.json files.
	BaseDir string

	// MaxConversations limits stored conversations (0 = unlimited).
	// The least recently updated files are removed first.
	MaxConversations int

	mu sync.Mutex // serializes enforceLimit against Save
}

// NewFileStore creates baseDir if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{BaseDir: baseDir, MaxConversations: DefaultMaxConversations}, nil
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context, id string) (*router.ConversationContext, error) {
	if err := ValidateID(id); err != nil {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var cc router.ConversationContext
	if err := json.Unmarshal(data, &cc); err != nil {
		return nil, err
	}
	if cc.History == nil {
		cc.History = []router.Turn{}
	}
	if cc.Transitions == nil {
		cc.Transitions = []router.Transition{}
	}
	return &cc, nil
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, cc *router.ConversationContext) error {
	if err := ValidateID(cc.ID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cc, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := util.AtomicWriteFile(s.filePath(cc.ID), data, 0o644); err != nil {
		return err
	}
	if s.MaxConversations > 0 {
		s.enforceLimit()
	}
	return nil
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return ErrNotFound
	}
	err := os.Remove(s.filePath(id))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

// IDs lists stored conversations, most recently modified first.
func (s *FileStore) IDs() ([]string, error) {
	entries, err := s.entries()
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[len(entries)-1-i] = e.id
	}
	return ids, nil
}

type fileEntry struct {
	id      string
	modNano int64
}

// entries returns stored files oldest first.
func (s *FileStore) entries() ([]fileEntry, error) {
	dirEntries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var out []fileEntry
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, fileEntry{id: strings.TrimSuffix(name, ".json"), modNano: info.ModTime().UnixNano()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].modNano < out[j].modNano })
	return out, nil
}

// enforceLimit removes the oldest conversations if over limit.
func (s *FileStore) enforceLimit() {
	entries, err := s.entries()
	if err != nil || len(entries) <= s.MaxConversations {
		return
	}
	excess := len(entries) - s.MaxConversations
	for i := 0; i < excess; i++ {
		_ = os.Remove(s.filePath(entries[i].id))
	}
}

func (s *FileStore) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}
