// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline provides a process-wide switch for air-gapped operation.
//
// Offline mode is for deployments with no route to the outside world. It
// makes connectivity an explicit fact instead of something discovered by
// pinging, so routing settles on the local venue immediately.
//
// # Usage
//
//	offline.SetOfflineMode(cfg.Routing.OfflineMode)
//
//	if err := offline.ValidateURL(cfg.Generation.OllamaURL); err != nil {
//		return err
//	}
package offline
