// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared by the storage layers.
//
//   - AtomicWriteFile: crash-safe file replacement with fsync
//   - TruncateRunes, Preview: UTF-8 safe shortening of command text
package util
