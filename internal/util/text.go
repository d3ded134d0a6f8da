// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import "strings"

// TruncateRunes cuts s to at most maxRunes runes, ending in "..." when
// anything was removed and there is room for it.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// Preview collapses runs of whitespace to one space and truncates the
// result with TruncateRunes. Used for one-line summaries of user text.
func Preview(s string, maxRunes int) string {
	return TruncateRunes(strings.Join(strings.Fields(s), " "), maxRunes)
}
