// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"time"

	"github.com/jeranaias/edgeroute/internal/signal"
)

// Source names reported in Signals.Source and on metrics.
const (
	SourceServer = "server"
	SourceClient = "client"
)

// Signals is the classified telemetry a routing decision consumes.
type Signals struct {
	Source  string                  `json:"metrics_source"`
	Network signal.NetworkCondition `json:"network_condition"`
	Device  signal.DeviceState      `json:"device_state"`
}

// Source produces Signals. Implementations must be safe for concurrent use
// and must not block past the context deadline.
type Source interface {
	Signals(ctx context.Context) Signals
}

// HostReading is a raw measurement of the host.
type HostReading struct {
	Timestamp         time.Time `json:"timestamp"`
	CPUPercent        float64   `json:"cpu_percent"`
	CPUCount          int       `json:"cpu_count"`
	MemoryTotalMB     float64   `json:"memory_total_mb"`
	MemoryAvailableMB float64   `json:"memory_available_mb"`
	MemoryPercent     float64   `json:"memory_percent"`
	BatteryPercent    *float64  `json:"battery_percent,omitempty"`
	PowerPlugged      *bool     `json:"power_plugged,omitempty"`
}

// Metrics projects the reading onto the classifier input.
func (r HostReading) Metrics() *signal.HostMetrics {
	return &signal.HostMetrics{
		CPUPercent:        r.CPUPercent,
		MemoryPercent:     r.MemoryPercent,
		MemoryAvailableMB: r.MemoryAvailableMB,
		BatteryPercent:    r.BatteryPercent,
	}
}

// NetworkReading is a raw measurement of connectivity.
type NetworkReading struct {
	Timestamp   time.Time `json:"timestamp"`
	Quality     string    `json:"quality"`
	AvgPingMS   *float64  `json:"avg_ping_ms,omitempty"`
	PingResults []float64 `json:"ping_results"`
}

// DeviceProbe measures the host.
type DeviceProbe interface {
	DeviceReading(ctx context.Context) (HostReading, error)
}

// NetworkProbe measures connectivity.
type NetworkProbe interface {
	NetworkReading(ctx context.Context) (NetworkReading, error)
}

// DeviceProbeFunc adapts a function to DeviceProbe.
type DeviceProbeFunc func(ctx context.Context) (HostReading, error)

// DeviceReading calls f(ctx).
func (f DeviceProbeFunc) DeviceReading(ctx context.Context) (HostReading, error) { return f(ctx) }

// NetworkProbeFunc adapts a function to NetworkProbe.
type NetworkProbeFunc func(ctx context.Context) (NetworkReading, error)

// NetworkReading calls f(ctx).
func (f NetworkProbeFunc) NetworkReading(ctx context.Context) (NetworkReading, error) { return f(ctx) }
