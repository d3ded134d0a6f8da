// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package signal

import (
	"fmt"
	"strings"
)

// ============================================================================
// COMPLEXITY
// ============================================================================

// Complexity is the estimated difficulty of a command.
type Complexity int

const (
	// ComplexityUnknown is never produced by ClassifyComplexity; it marks
	// decisions that skipped classification (forced venues).
	ComplexityUnknown Complexity = iota
	// ComplexitySimple covers greetings, yes/no, media and device controls.
	ComplexitySimple
	// ComplexityModerate covers lookups, reminders, messaging, conversions.
	ComplexityModerate
	// ComplexityComplex covers reasoning, comparison, summarization and
	// anything that refers back into the conversation.
	ComplexityComplex
)

// String returns the external name of the complexity.
func (c Complexity) String() string {
	switch c {
	case ComplexityUnknown:
		return "unknown"
	case ComplexitySimple:
		return "simple"
	case ComplexityModerate:
		return "moderate"
	case ComplexityComplex:
		return "complex"
	default:
		return fmt.Sprintf("Complexity(%d)", c)
	}
}

// ParseComplexity maps an external name to a Complexity.
// Unrecognized names map to ComplexityUnknown.
func ParseComplexity(s string) Complexity {
	switch normalize(s) {
	case "simple":
		return ComplexitySimple
	case "moderate":
		return ComplexityModerate
	case "complex":
		return ComplexityComplex
	default:
		return ComplexityUnknown
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Complexity) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Complexity) UnmarshalText(b []byte) error {
	*c = ParseComplexity(string(b))
	return nil
}

// ============================================================================
// NETWORK CONDITION
// ============================================================================

// NetworkCondition is the observed quality of the link to the server.
type NetworkCondition int

const (
	NetworkUnknown NetworkCondition = iota
	NetworkExcellent
	NetworkGood
	NetworkFair
	NetworkPoor
	NetworkOffline
)

// String returns the external name of the condition.
func (n NetworkCondition) String() string {
	switch n {
	case NetworkUnknown:
		return "unknown"
	case NetworkExcellent:
		return "excellent"
	case NetworkGood:
		return "good"
	case NetworkFair:
		return "fair"
	case NetworkPoor:
		return "poor"
	case NetworkOffline:
		return "offline"
	default:
		return fmt.Sprintf("NetworkCondition(%d)", n)
	}
}

// ParseNetworkCondition maps an external name to a NetworkCondition.
// Unrecognized names map to NetworkUnknown.
func ParseNetworkCondition(s string) NetworkCondition {
	switch normalize(s) {
	case "excellent":
		return NetworkExcellent
	case "good":
		return NetworkGood
	case "fair":
		return NetworkFair
	case "poor":
		return NetworkPoor
	case "offline":
		return NetworkOffline
	default:
		return NetworkUnknown
	}
}

// IsGood reports whether the link is Excellent or Good.
func (n NetworkCondition) IsGood() bool {
	return n == NetworkExcellent || n == NetworkGood
}

// IsUsable reports whether the link is at least Fair.
func (n NetworkCondition) IsUsable() bool {
	return n.IsGood() || n == NetworkFair
}

// MarshalText implements encoding.TextMarshaler.
func (n NetworkCondition) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *NetworkCondition) UnmarshalText(b []byte) error {
	*n = ParseNetworkCondition(string(b))
	return nil
}

// ============================================================================
// DEVICE STATE
// ============================================================================

// DeviceState is the resource headroom of the executing device.
type DeviceState int

const (
	DeviceUnknown DeviceState = iota
	DeviceOptimal
	DeviceAdequate
	DeviceConstrained
	DeviceCritical
)

// String returns the external name of the state.
func (d DeviceState) String() string {
	switch d {
	case DeviceUnknown:
		return "unknown"
	case DeviceOptimal:
		return "optimal"
	case DeviceAdequate:
		return "adequate"
	case DeviceConstrained:
		return "constrained"
	case DeviceCritical:
		return "critical"
	default:
		return fmt.Sprintf("DeviceState(%d)", d)
	}
}

// ParseDeviceState maps an external name to a DeviceState.
// Unrecognized names map to DeviceUnknown.
func ParseDeviceState(s string) DeviceState {
	switch normalize(s) {
	case "optimal":
		return DeviceOptimal
	case "adequate":
		return DeviceAdequate
	case "constrained":
		return DeviceConstrained
	case "critical":
		return DeviceCritical
	default:
		return DeviceUnknown
	}
}

// IsCapable reports whether the device is Optimal or Adequate.
func (d DeviceState) IsCapable() bool {
	return d == DeviceOptimal || d == DeviceAdequate
}

// MarshalText implements encoding.TextMarshaler.
func (d DeviceState) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DeviceState) UnmarshalText(b []byte) error {
	*d = ParseDeviceState(string(b))
	return nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
