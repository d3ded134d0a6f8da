// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the venue router over HTTP.
//
// # Endpoints
//
//   - POST /api/route              - select a venue for a command
//   - POST /api/transition         - record a venue change
//   - GET  /api/conversations/{id} - read a stored conversation
//   - GET  /api/decisions          - recent audited decisions
//   - POST /generate               - stream a completion from the backend
//   - POST /check_model            - model compatibility check
//   - GET  /system_info            - host, network and model status
//   - GET  /health                 - liveness and backend status
//   - GET  /metrics                - Prometheus metrics
//
// # Middleware
//
// Every request passes through panic recovery, security headers, CORS,
// structured access logging and a per-client rate limiter. Client IPs
// are taken from X-Forwarded-For only when the peer is a trusted proxy.
//
// # Usage
//
//	srv := server.NewServer(router.New(source), config.Global).
//		WithSessions(session.NewManager(store)).
//		WithGenerator(ollama.NewClient())
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
