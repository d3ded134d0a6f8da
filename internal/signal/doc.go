// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package signal classifies raw inputs into the three routing signals.
//
// Each signal is a closed enumeration with an explicit Unknown member, so a
// missing or malformed input always maps to a defined value instead of an
// error.
//
// # Key Types
//
//   - Complexity: how hard a command is (Simple, Moderate, Complex)
//   - NetworkCondition: link quality (Excellent .. Offline)
//   - DeviceState: host resource headroom (Optimal .. Critical)
//   - HostMetrics: server-measured CPU, memory, and battery
//   - ClientMetrics: device-reported telemetry posted by a client
//
// # Usage
//
//	c := signal.ClassifyComplexity("explain the weather")  // Complex
//	n := signal.ClassifyNetworkLabel("good")               // NetworkGood
//	d := signal.ClassifyHostDevice(&signal.HostMetrics{
//		CPUPercent: 20, MemoryPercent: 40, MemoryAvailableMB: 8000,
//	}) // DeviceOptimal
//
// Server-measured and client-reported telemetry use separate threshold sets.
// Both paths check Critical first, then Constrained, then Optimal.
package signal
