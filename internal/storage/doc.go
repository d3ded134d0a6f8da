// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage keeps an audit trail of routing decisions and venue
// transitions in SQLite.
//
// The database runs in WAL mode with a single open connection, so writes
// from concurrent requests queue instead of failing with SQLITE_BUSY.
//
// # Usage
//
//	store, err := storage.Open("~/.edgeroute/decisions.db")
//	id, err := store.SaveDecision(ctx, storage.DecisionRecord{...})
//	recent, err := store.RecentDecisions(ctx, 20)
//	counts, err := store.VenueCounts(ctx)
//
// # Storage Location
//
// The default path is ~/.edgeroute/decisions.db (see internal/config).
package storage
