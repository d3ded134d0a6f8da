// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/edgeroute/internal/router"
	"github.com/jeranaias/edgeroute/internal/util"
)

// PreviewRunes bounds the stored command text.
const PreviewRunes = 80

// DefaultRecentLimit is used when RecentDecisions gets a non-positive limit.
const DefaultRecentLimit = 50

// MaxRecentLimit caps RecentDecisions.
const MaxRecentLimit = 1000

// =============================================================================
// RECORDS
// =============================================================================

// DecisionRecord is one row of the decisions table.
type DecisionRecord struct {
	ID             string    `db:"id" json:"id"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	ConversationID string    `db:"conversation_id" json:"conversation_id,omitempty"`
	TextPreview    string    `db:"text_preview" json:"text_preview"`
	Venue          string    `db:"venue" json:"decision"`
	Rule           string    `db:"rule" json:"rule"`
	Reason         string    `db:"reason" json:"reason"`
	Complexity     string    `db:"complexity" json:"command_complexity"`
	Network        string    `db:"network" json:"network_condition"`
	Device         string    `db:"device" json:"device_state"`
	MetricsSource  string    `db:"metrics_source" json:"metrics_source,omitempty"`
	Forced         bool      `db:"forced" json:"forced"`
	DecisionTimeMS float64   `db:"decision_time_ms" json:"decision_time_ms"`
}

// NewDecisionRecord flattens a router decision. text is cut to PreviewRunes.
func NewDecisionRecord(conversationID, text string, d router.Decision) DecisionRecord {
	return DecisionRecord{
		ConversationID: conversationID,
		TextPreview:    util.Preview(text, PreviewRunes),
		Venue:          d.Venue.String(),
		Rule:           d.Rule,
		Reason:         d.Reason,
		Complexity:     d.Complexity.String(),
		Network:        d.Network.String(),
		Device:         d.Device.String(),
		MetricsSource:  d.MetricsSource,
		Forced:         d.Forced,
		DecisionTimeMS: d.DecisionTimeMS,
	}
}

// TransitionRecord is one row of the transitions table.
type TransitionRecord struct {
	ID             string    `db:"id" json:"id"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	ConversationID string    `db:"conversation_id" json:"conversation_id,omitempty"`
	From           string    `db:"from_location" json:"from_location"`
	To             string    `db:"to_location" json:"to_location"`
}

// VenueCount is one row of VenueCounts.
type VenueCount struct {
	Venue string `db:"venue" json:"venue"`
	Count int64  `db:"n" json:"count"`
}

// =============================================================================
// STORE
// =============================================================================

// DecisionStore is the SQLite audit log. Safe for concurrent use.
type DecisionStore struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the database at path. A leading "~/" is
// expanded; ":memory:" opens a private in-memory database.
func Open(path string) (*DecisionStore, error) {
	dsn, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &DecisionStore{db: db}, nil
}

func resolvePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[2:])
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create database directory: %w", err)
	}
	return path, nil
}

// Close closes the database.
func (s *DecisionStore) Close() error {
	return s.db.Close()
}

// SaveDecision inserts rec and returns its ID. Empty ID and CreatedAt are
// filled in.
func (s *DecisionStore) SaveDecision(ctx context.Context, rec DecisionRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO decisions (
			id, created_at, conversation_id, text_preview, venue, rule, reason,
			complexity, network, device, metrics_source, forced, decision_time_ms
		) VALUES (
			:id, :created_at, :conversation_id, :text_preview, :venue, :rule, :reason,
			:complexity, :network, :device, :metrics_source, :forced, :decision_time_ms
		)`, rec)
	if err != nil {
		return "", fmt.Errorf("insert decision: %w", err)
	}
	return rec.ID, nil
}

// SaveTransition inserts rec and returns its ID.
func (s *DecisionStore) SaveTransition(ctx context.Context, rec TransitionRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO transitions (id, created_at, conversation_id, from_location, to_location)
		VALUES (:id, :created_at, :conversation_id, :from_location, :to_location)`, rec)
	if err != nil {
		return "", fmt.Errorf("insert transition: %w", err)
	}
	return rec.ID, nil
}

// RecentDecisions returns up to limit decisions, newest first.
func (s *DecisionStore) RecentDecisions(ctx context.Context, limit int) ([]DecisionRecord, error) {
	limit = clampLimit(limit)
	out := []DecisionRecord{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, created_at, conversation_id, text_preview, venue, rule, reason,
		       complexity, network, device, metrics_source, forced, decision_time_ms
		FROM decisions
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("select decisions: %w", err)
	}
	return out, nil
}

// ConversationTransitions returns a conversation's transitions, oldest first.
func (s *DecisionStore) ConversationTransitions(ctx context.Context, conversationID string) ([]TransitionRecord, error) {
	out := []TransitionRecord{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, created_at, conversation_id, from_location, to_location
		FROM transitions
		WHERE conversation_id = ?
		ORDER BY created_at, rowid`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("select transitions: %w", err)
	}
	return out, nil
}

// VenueCounts returns the number of decisions per venue, most common first.
func (s *DecisionStore) VenueCounts(ctx context.Context) ([]VenueCount, error) {
	out := []VenueCount{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT venue, COUNT(*) AS n
		FROM decisions
		GROUP BY venue
		ORDER BY n DESC, venue`)
	if err != nil {
		return nil, fmt.Errorf("count venues: %w", err)
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		return MaxRecentLimit
	}
	return limit
}
