// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

// Schema is applied on every Open; statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id               TEXT PRIMARY KEY,
	created_at       TIMESTAMP NOT NULL,
	conversation_id  TEXT NOT NULL DEFAULT '',
	text_preview     TEXT NOT NULL DEFAULT '',
	venue            TEXT NOT NULL,
	rule             TEXT NOT NULL,
	reason           TEXT NOT NULL,
	complexity       TEXT NOT NULL,
	network          TEXT NOT NULL,
	device           TEXT NOT NULL,
	metrics_source   TEXT NOT NULL DEFAULT '',
	forced           INTEGER NOT NULL DEFAULT 0,
	decision_time_ms REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(created_at);
CREATE INDEX IF NOT EXISTS idx_decisions_conversation ON decisions(conversation_id);

CREATE TABLE IF NOT EXISTS transitions (
	id              TEXT PRIMARY KEY,
	created_at      TIMESTAMP NOT NULL,
	conversation_id TEXT NOT NULL DEFAULT '',
	from_location   TEXT NOT NULL,
	to_location     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transitions_conversation ON transitions(conversation_id);
`
