// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session stores conversation contexts between requests.
//
// The router treats a ConversationContext as caller-owned and does no
// locking. Manager supplies the missing discipline for the HTTP server:
// every mutation of a conversation runs under that conversation's own
// lock, so concurrent requests on one conversation never interleave their
// transitions while requests on different conversations proceed in
// parallel.
//
// # Key Types
//
//   - Manager: per-conversation single-writer access over a Store
//   - Store: persistence backend interface
//   - MemoryStore: in-process map, the default
//   - FileStore: one JSON file per conversation
//   - RedisStore: shared store for multi-instance deployments
//
// # Usage
//
//	mgr := session.NewManager(session.NewMemoryStore())
//	cc, err := mgr.Update(ctx, id, func(cc *router.ConversationContext) error {
//		cc.AddTurn("user", text, venue.String())
//		return nil
//	})
package session
