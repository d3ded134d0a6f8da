// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/edgeroute/internal/signal"
)

// ============================================================================
// VENUE TYPE
// ============================================================================

// Venue is where a command is executed.
type Venue int

const (
	// VenueLocal runs on the user's device.
	VenueLocal Venue = iota
	// VenueServer runs on the remote server.
	VenueServer
	// VenueHybrid splits work between device and server. It is accepted as
	// a forced venue but no rule produces it.
	VenueHybrid
	// VenueAutomatic asks the router to decide. It is an input value only and
	// is never returned as a decision.
	VenueAutomatic
)

// String returns the external name of the venue.
func (v Venue) String() string {
	switch v {
	case VenueLocal:
		return "local"
	case VenueServer:
		return "server"
	case VenueHybrid:
		return "hybrid"
	case VenueAutomatic:
		return "automatic"
	default:
		return fmt.Sprintf("Venue(%d)", v)
	}
}

// ParseVenue maps an external name to a Venue, ignoring case and
// surrounding space.
func ParseVenue(s string) (Venue, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local":
		return VenueLocal, true
	case "server":
		return VenueServer, true
	case "hybrid":
		return VenueHybrid, true
	case "automatic":
		return VenueAutomatic, true
	default:
		return VenueLocal, false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (v Venue) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Venue) UnmarshalText(b []byte) error {
	parsed, ok := ParseVenue(string(b))
	if !ok {
		return fmt.Errorf("unknown venue %q", string(b))
	}
	*v = parsed
	return nil
}

// ============================================================================
// ROUTING DECISION
// ============================================================================

// Rule names identify which step of the policy produced a decision.
const (
	RuleForced           = "forced"
	RuleOffline          = "offline"
	RuleResourcePressure = "resource_pressure"
	RuleComplexCommand   = "complex_command"
	RuleSimpleCommand    = "simple_command"
	RuleNetworkQuality   = "network_quality"
	RuleDefault          = "default"
)

// Decision is the full record of one venue selection. It is built once and
// never modified.
type Decision struct {
	// Venue is the selected venue. Never VenueAutomatic.
	Venue Venue `json:"decision"`
	// Reason is a short human-readable justification.
	Reason string `json:"reason"`
	// Rule is the policy step that fired.
	Rule string `json:"rule"`
	// Complexity, Network and Device are the classified inputs. All three
	// are Unknown on a forced decision.
	Complexity signal.Complexity       `json:"command_complexity"`
	Network    signal.NetworkCondition `json:"network_condition"`
	Device     signal.DeviceState      `json:"device_state"`
	// MetricsSource is "server" or "client"; empty on a forced decision.
	MetricsSource string `json:"metrics_source,omitempty"`
	// Forced is true when an override short-circuited the policy.
	Forced bool `json:"forced"`
	// Elapsed is the time spent gathering signals and evaluating rules.
	Elapsed time.Duration `json:"-"`
	// DecisionTimeMS is Elapsed in milliseconds.
	DecisionTimeMS float64 `json:"decision_time_ms"`
}

// String returns a one-line summary of the decision.
func (d Decision) String() string {
	if d.Forced {
		return fmt.Sprintf("%s (forced)", d.Venue)
	}
	return fmt.Sprintf("%s (complexity=%s, network=%s, device=%s, source=%s, %.2fms): %s",
		d.Venue, d.Complexity, d.Network, d.Device, d.MetricsSource, d.DecisionTimeMS, d.Reason)
}

// Fields returns the decision as an event payload.
func (d Decision) Fields() map[string]any {
	return map[string]any{
		"decision":           d.Venue.String(),
		"reason":             d.Reason,
		"rule":               d.Rule,
		"command_complexity": d.Complexity.String(),
		"network_condition":  d.Network.String(),
		"device_state":       d.Device.String(),
		"metrics_source":     d.MetricsSource,
		"forced":             d.Forced,
		"decision_time_ms":   d.DecisionTimeMS,
	}
}
