// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"testing"
)

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

func TestAtomicWriteFile_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations", "c1.json")

	if err := AtomicWriteFile(path, []byte(`{"id":"c1"}`), 0o644); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != `{"id":"c1"}` {
		t.Errorf("content = %q", got)
	}
}

func TestAtomicWriteFile_OverwritesWithoutLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c1.json")

	for _, body := range []string{"first", "second, longer"} {
		if err := AtomicWriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write %q: %v", body, err)
		}
	}

	got, _ := os.ReadFile(path)
	if string(got) != "second, longer" {
		t.Errorf("content = %q, want the last write", got)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want only the target file", len(entries))
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 && os.PathSeparator == '/' {
		t.Errorf("perm = %o, want 600", perm)
	}
}

func TestAtomicWriteFile_EmptyData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	if err := AtomicWriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Errorf("size = %d, want 0", info.Size())
	}
}

// =============================================================================
// TEXT TESTS
// =============================================================================

func TestTruncateRunes(t *testing.T) {
	testCases := []struct {
		input    string
		maxRunes int
		expected string
	}{
		{"hello world", 5, "he..."},
		{"hello", 5, "hello"},
		{"", 5, ""},
		{"hello world", 0, ""},
		{"abcd", 3, "abc"}, // no room for an ellipsis
		{"héllo wörld", 8, "héllo..."},
		{"日本語のテキスト", 5, "日本..."},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			if got := TruncateRunes(tc.input, tc.maxRunes); got != tc.expected {
				t.Errorf("TruncateRunes(%q, %d) = %q, want %q", tc.input, tc.maxRunes, got, tc.expected)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	testCases := []struct {
		input    string
		maxRunes int
		expected string
	}{
		{"  set a\treminder\n\nfor   noon ", 80, "set a reminder for noon"},
		{"what is the weather like today", 10, "what is..."},
		{"   ", 10, ""},
	}

	for _, tc := range testCases {
		if got := Preview(tc.input, tc.maxRunes); got != tc.expected {
			t.Errorf("Preview(%q, %d) = %q, want %q", tc.input, tc.maxRunes, got, tc.expected)
		}
	}
}
