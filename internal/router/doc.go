// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router decides whether a command runs on the device or the server.
//
// A decision combines three signals: command complexity (from the text),
// network condition and device state (from telemetry). Telemetry comes from
// the client when it posted any, otherwise from the server's own probes.
//
// # Key Types
//
//   - Router: stateless venue selector, safe for concurrent use
//   - Venue: Local, Server, Hybrid, or the Automatic input sentinel
//   - Decision: the selected venue with the signals and rule that chose it
//   - ConversationContext: caller-owned history and transition log
//
// # Policy
//
// An explicit forced venue wins outright. Otherwise the first matching rule
// decides:
//
//  1. offline network: local
//  2. critical device on a good network: server
//  3. complex command on a usable network: server
//  4. simple command on a capable device: local
//  5. good network: server
//  6. otherwise: local
//
// # Usage
//
//	r := router.New(serverSource, router.WithEventLogger(events))
//	venue, d := r.SelectVenue(ctx, router.Request{Text: "explain the weather"})
//	if prev := conv.LastVenue(); prev != "" && prev != venue.String() {
//		r.RecordTransitionNames(prev, venue.String(), conv)
//	}
package router
