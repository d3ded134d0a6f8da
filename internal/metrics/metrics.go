// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Routing metrics
	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgeroute_routing_decisions_total",
			Help: "Total number of venue decisions",
		},
		[]string{"venue", "rule", "source"},
	)

	RoutingDecisionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edgeroute_routing_decision_seconds",
			Help:    "Time spent selecting a venue, including telemetry",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		},
		[]string{"source"},
	)

	VenueTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgeroute_venue_transitions_total",
			Help: "Total number of venue transitions recorded on conversations",
		},
		[]string{"from", "to"},
	)

	// Telemetry metrics
	TelemetryProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edgeroute_telemetry_probe_seconds",
			Help:    "Telemetry probe latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"probe"},
	)

	TelemetryProbeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgeroute_telemetry_probe_errors_total",
			Help: "Telemetry probes that failed or timed out",
		},
		[]string{"probe"},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgeroute_http_requests_total",
			Help: "HTTP requests by route pattern and status code",
		},
		[]string{"path", "status"},
	)

	GenerationFragments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgeroute_generation_fragments_total",
			Help: "Text fragments streamed to clients by model",
		},
		[]string{"model"},
	)
)

// RecordDecision records one venue decision.
func RecordDecision(venue, rule, source string, elapsed time.Duration) {
	RoutingDecisions.WithLabelValues(venue, rule, source).Inc()
	RoutingDecisionDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

// RecordTransition records one venue change on a conversation.
func RecordTransition(from, to string) {
	VenueTransitions.WithLabelValues(from, to).Inc()
}

// RecordProbe records a telemetry probe outcome.
func RecordProbe(probe string, elapsed time.Duration, err error) {
	TelemetryProbeDuration.WithLabelValues(probe).Observe(elapsed.Seconds())
	if err != nil {
		TelemetryProbeErrors.WithLabelValues(probe).Inc()
	}
}
