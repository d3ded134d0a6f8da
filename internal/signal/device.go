// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package signal

// ============================================================================
// SERVER-MEASURED DEVICE
// ============================================================================

// Thresholds for server-measured host metrics.
const (
	hostCriticalBatteryPercent = 15
	hostCriticalAvailableMB    = 500
	hostConstrainedCPUPercent  = 80
	hostConstrainedMemPercent  = 80
	hostConstrainedAvailableMB = 1000
	hostConstrainedBattery     = 30
	hostOptimalCPUPercent      = 30
	hostOptimalMemPercent      = 50
	hostOptimalAvailableMB     = 4000
	hostOptimalBatteryPercent  = 70
)

// HostMetrics is a server-side snapshot of the executing host.
// BatteryPercent is nil on machines without a battery.
type HostMetrics struct {
	CPUPercent        float64  `json:"cpu_percent"`
	MemoryPercent     float64  `json:"memory_percent"`
	MemoryAvailableMB float64  `json:"memory_available_mb"`
	BatteryPercent    *float64 `json:"battery_percent,omitempty"`
}

// ClassifyHostDevice classifies server-measured host metrics.
// A nil snapshot (the probe failed) is DeviceUnknown. A missing battery
// places no constraint on the result.
func ClassifyHostDevice(m *HostMetrics) DeviceState {
	if m == nil {
		return DeviceUnknown
	}
	battery, hasBattery := batteryLevel(m.BatteryPercent)

	switch {
	case hasBattery && battery < hostCriticalBatteryPercent,
		m.MemoryAvailableMB < hostCriticalAvailableMB:
		return DeviceCritical
	case m.CPUPercent > hostConstrainedCPUPercent,
		m.MemoryPercent > hostConstrainedMemPercent,
		m.MemoryAvailableMB < hostConstrainedAvailableMB,
		hasBattery && battery < hostConstrainedBattery:
		return DeviceConstrained
	case m.CPUPercent < hostOptimalCPUPercent &&
		m.MemoryPercent < hostOptimalMemPercent &&
		m.MemoryAvailableMB > hostOptimalAvailableMB &&
		(!hasBattery || battery > hostOptimalBatteryPercent):
		return DeviceOptimal
	default:
		return DeviceAdequate
	}
}

// ============================================================================
// CLIENT-REPORTED DEVICE
// ============================================================================

// Thresholds for client-reported telemetry. These differ from the host
// thresholds on purpose and must not be merged.
const (
	clientCriticalBattery    = 15
	clientCriticalMemoryGB   = 0.5
	clientConstrainedBattery = 30
	clientConstrainedMemGB   = 1
	clientOptimalBattery     = 70
	clientOptimalMemoryGB    = 4
)

// ClassifyClientDevice classifies device telemetry reported by a client.
// Absent metrics are DeviceUnknown; absent fields place no constraint.
func ClassifyClientDevice(m *ClientMetrics) DeviceState {
	if m == nil {
		return DeviceUnknown
	}
	battery, hasBattery := m.batteryLevel()
	memory, hasMemory := m.memoryGB()

	switch {
	case hasBattery && battery < clientCriticalBattery,
		hasMemory && memory < clientCriticalMemoryGB:
		return DeviceCritical
	case hasBattery && battery < clientConstrainedBattery,
		hasMemory && memory < clientConstrainedMemGB:
		return DeviceConstrained
	case (!hasBattery || battery > clientOptimalBattery) &&
		(!hasMemory || memory >= clientOptimalMemoryGB):
		return DeviceOptimal
	default:
		return DeviceAdequate
	}
}

func batteryLevel(p *float64) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}
