// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"errors"
	"net"
	"net/url"
	"strings"
	"sync"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNetworkBlocked is returned when an outbound operation is attempted
	// in offline mode.
	ErrNetworkBlocked = errors.New("network access disabled in offline mode")

	// ErrNonLocalhost is returned for a non-loopback URL in offline mode.
	ErrNonLocalhost = errors.New("only loopback backends are allowed in offline mode")

	// ErrInvalidURLScheme is returned when a URL is not http or https.
	ErrInvalidURLScheme = errors.New("only http and https URLs are allowed")
)

// =============================================================================
// MODE MANAGEMENT
// =============================================================================

var (
	offlineMode      bool
	offlineModeMutex sync.RWMutex
)

// SetOfflineMode turns offline mode on or off for the whole process.
// While on, the ping probe reports "offline" without sending packets, which
// keeps every automatic decision local, and generation backends must be
// loopback URLs.
func SetOfflineMode(enabled bool) {
	offlineModeMutex.Lock()
	defer offlineModeMutex.Unlock()
	offlineMode = enabled
}

// IsOfflineMode reports whether offline mode is on.
func IsOfflineMode() bool {
	offlineModeMutex.RLock()
	defer offlineModeMutex.RUnlock()
	return offlineMode
}

// =============================================================================
// URL VALIDATION
// =============================================================================

// IsLocalhost reports whether host (optionally with a port) is loopback.
func IsLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))

	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// ValidateURL checks a backend URL. The scheme must always be http or https;
// in offline mode the host must also be loopback.
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrNetworkBlocked
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrInvalidURLScheme
	}

	if IsOfflineMode() && !IsLocalhost(parsed.Hostname()) {
		return ErrNonLocalhost
	}
	return nil
}

// CheckNetworkAllowed returns ErrNetworkBlocked in offline mode.
func CheckNetworkAllowed() error {
	if IsOfflineMode() {
		return ErrNetworkBlocked
	}
	return nil
}

// StatusIndicator returns "offline" or "online" for status endpoints.
func StatusIndicator() string {
	if IsOfflineMode() {
		return "offline"
	}
	return "online"
}
