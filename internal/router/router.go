// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router decides whether a command runs on the device or the server.
package router

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/edgeroute/internal/eventlog"
	"github.com/jeranaias/edgeroute/internal/metrics"
	"github.com/jeranaias/edgeroute/internal/signal"
	"github.com/jeranaias/edgeroute/internal/telemetry"
)

// Event types written to the event log.
const (
	EventContext    = "processing_location_context"
	EventDecision   = "processing_location_decision"
	EventTransition = "processing_location_transition"
)

// ============================================================================
// POLICY
// ============================================================================

// inputs are the classified signals a rule sees.
type inputs struct {
	complexity signal.Complexity
	network    signal.NetworkCondition
	device     signal.DeviceState
}

// rule is one step of the venue policy.
type rule struct {
	name   string
	venue  Venue
	reason string
	when   func(in inputs) bool
}

// policy is evaluated top to bottom and the first matching rule wins.
// DO NOT REORDER: offline must beat resource pressure, which must beat
// complexity, and the last rule must always match.
var policy = []rule{
	{
		name:   RuleOffline,
		venue:  VenueLocal,
		reason: "No network connectivity available",
		when:   func(in inputs) bool { return in.network == signal.NetworkOffline },
	},
	{
		name:   RuleResourcePressure,
		venue:  VenueServer,
		reason: "Device resources critically low, good network available",
		when: func(in inputs) bool {
			return in.device == signal.DeviceCritical && in.network.IsGood()
		},
	},
	{
		name:   RuleComplexCommand,
		venue:  VenueServer,
		reason: "Complex command with adequate network",
		when: func(in inputs) bool {
			return in.complexity == signal.ComplexityComplex && in.network.IsUsable()
		},
	},
	{
		name:   RuleSimpleCommand,
		venue:  VenueLocal,
		reason: "Simple command with adequate device resources",
		when: func(in inputs) bool {
			return in.complexity == signal.ComplexitySimple && in.device.IsCapable()
		},
	},
	{
		name:   RuleNetworkQuality,
		venue:  VenueServer,
		reason: "Good network conditions favor server processing",
		when:   func(in inputs) bool { return in.network.IsGood() },
	},
	{
		name:   RuleDefault,
		venue:  VenueLocal,
		reason: "Default fallback to local for reliability",
		when:   func(inputs) bool { return true },
	},
}

// evaluate returns the first rule whose condition holds.
func evaluate(in inputs) rule {
	for _, r := range policy {
		if r.when(in) {
			return r
		}
	}
	// Unreachable while the default rule is last.
	return policy[len(policy)-1]
}

// ============================================================================
// ROUTER
// ============================================================================

// Request is the input to one venue decision.
type Request struct {
	// Text is the command as spoken or typed.
	Text string
	// Context is the caller's conversation, if any. Only its presence is
	// consulted; SelectVenue never modifies it.
	Context *ConversationContext
	// ForcedVenue overrides the policy when it names local, server or
	// hybrid. Any other value, including "automatic", is ignored.
	ForcedVenue string
	// ClientMetrics, when non-empty, replaces server-measured telemetry.
	ClientMetrics *signal.ClientMetrics
}

// Router selects venues. It holds no per-decision state and is safe for
// concurrent use.
type Router struct {
	server       telemetry.Source
	events       eventlog.Logger
	logger       *zap.Logger
	defaultForce func() string
}

// Option configures a Router.
type Option func(*Router)

// WithEventLogger sets the sink for routing events.
func WithEventLogger(l eventlog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.events = l
		}
	}
}

// WithLogger sets the operational logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithDefaultForce supplies a forced venue used when a request has none.
// It is called on every decision so configuration reloads take effect.
func WithDefaultForce(fn func() string) Option {
	return func(r *Router) {
		r.defaultForce = fn
	}
}

// New returns a router that reads server-side telemetry from server.
// A nil server source yields Unknown network and device signals.
func New(server telemetry.Source, opts ...Option) *Router {
	r := &Router{
		server: server,
		events: eventlog.Nop{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SelectVenue picks the venue for one command. It never fails: missing
// telemetry degrades to Unknown signals and the policy falls through to
// the local default.
func (r *Router) SelectVenue(ctx context.Context, req Request) (Venue, Decision) {
	if d, ok := r.forced(req.ForcedVenue); ok {
		r.logger.Debug("venue forced", zap.Stringer("venue", d.Venue))
		r.events.LogEvent(EventDecision, d.Fields())
		metrics.RecordDecision(d.Venue.String(), d.Rule, "none", 0)
		return d.Venue, d
	}

	start := time.Now()

	var source telemetry.Source = r.server
	if !req.ClientMetrics.IsEmpty() {
		source = telemetry.NewClientSource(req.ClientMetrics)
	}

	complexity := signal.ClassifyComplexity(req.Text)
	sig := telemetry.Signals{
		Source:  telemetry.SourceServer,
		Network: signal.NetworkUnknown,
		Device:  signal.DeviceUnknown,
	}
	if source != nil {
		sig = source.Signals(ctx)
	}

	r.events.LogEvent(EventContext, map[string]any{
		"metrics_source":     sig.Source,
		"command_complexity": complexity.String(),
		"network_condition":  sig.Network.String(),
		"device_state":       sig.Device.String(),
		"has_context":        req.Context != nil,
	})

	in := inputs{complexity: complexity, network: sig.Network, device: sig.Device}
	chosen := evaluate(in)
	elapsed := time.Since(start)

	d := Decision{
		Venue:          chosen.venue,
		Reason:         chosen.reason,
		Rule:           chosen.name,
		Complexity:     complexity,
		Network:        sig.Network,
		Device:         sig.Device,
		MetricsSource:  sig.Source,
		Elapsed:        elapsed,
		DecisionTimeMS: float64(elapsed.Microseconds()) / 1000,
	}

	r.logger.Debug("venue selected",
		zap.Stringer("venue", d.Venue),
		zap.String("rule", d.Rule),
		zap.Stringer("complexity", complexity),
		zap.Stringer("network", sig.Network),
		zap.Stringer("device", sig.Device),
		zap.String("source", sig.Source),
		zap.Duration("elapsed", elapsed),
	)
	r.events.LogEvent(EventDecision, d.Fields())
	metrics.RecordDecision(d.Venue.String(), d.Rule, d.MetricsSource, elapsed)

	return d.Venue, d
}

// forced builds the short-circuit decision for an explicit override.
func (r *Router) forced(requested string) (Decision, bool) {
	if requested == "" && r.defaultForce != nil {
		requested = r.defaultForce()
	}
	if requested == "" {
		return Decision{}, false
	}
	v, ok := ParseVenue(requested)
	if !ok || v == VenueAutomatic {
		return Decision{}, false
	}
	return Decision{
		Venue:      v,
		Reason:     "Forced by user setting",
		Rule:       RuleForced,
		Complexity: signal.ComplexityUnknown,
		Network:    signal.NetworkUnknown,
		Device:     signal.DeviceUnknown,
		Forced:     true,
	}, true
}
