// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry gathers device and network signals for routing.
//
// Two sources implement the same Source interface and yield the same
// Signals shape: ServerSource measures the host it runs on, ClientSource
// wraps telemetry a client posted with its request. The router picks one
// per decision and never needs to know which.
//
// # Key Types
//
//   - Source: anything that can produce Signals
//   - ServerSource: host and network probes with a deadline and a short cache
//   - ClientSource: classifies a posted signal.ClientMetrics document
//   - HostProbe: CPU, memory and battery via gopsutil and distatus/battery
//   - PingProbe: round-trip latency to public resolvers via the system ping
//
// # Usage
//
//	src := telemetry.NewServerSource(telemetry.NewHostProbe(), telemetry.NewPingProbe(nil),
//		telemetry.WithTimeout(2*time.Second),
//		telemetry.WithCacheTTL(5*time.Second),
//	)
//	sig := src.Signals(ctx)
//	fmt.Println(sig.Network, sig.Device)
//
// # Failure Handling
//
// A probe that errors or misses the deadline degrades its signal to
// Unknown. Signals never returns an error.
package telemetry
