// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package signal

import (
	"encoding/json"
	"fmt"
)

// ClientMetrics is the telemetry document a client may attach to a request:
//
//	{"network":{"effectiveType":"4g"},"memory":{"memoryGB":8},
//	 "battery":{"level":64},"cpu":{"load":0.3}}
//
// Every section is optional. CPU is accepted but not used for routing.
type ClientMetrics struct {
	Network *ClientNetwork `json:"network,omitempty"`
	Memory  *ClientMemory  `json:"memory,omitempty"`
	Battery *ClientBattery `json:"battery,omitempty"`
	CPU     *ClientCPU     `json:"cpu,omitempty"`
}

// ClientNetwork carries the reported connection type.
type ClientNetwork struct {
	EffectiveType string `json:"effectiveType"`
}

// ClientMemory carries the reported device memory in gigabytes.
type ClientMemory struct {
	MemoryGB *float64 `json:"memoryGB,omitempty"`
}

// ClientBattery carries the reported battery charge, 0 to 100.
type ClientBattery struct {
	Level *float64 `json:"level,omitempty"`
}

// ClientCPU carries the reported CPU load.
type ClientCPU struct {
	Load *float64 `json:"load,omitempty"`
}

// IsEmpty reports whether m carries no usable section. An empty document
// routes on server telemetry, the same as no document at all.
func (m *ClientMetrics) IsEmpty() bool {
	return m == nil || (m.Network == nil && m.Memory == nil && m.Battery == nil && m.CPU == nil)
}

// ParseClientMetrics decodes a client telemetry document.
//
// Sections that fail to decode are dropped rather than failing the whole
// document, so a client sending {"battery":"full"} still gets its network
// section honored. Only a document that is not a JSON object is an error.
func ParseClientMetrics(data []byte) (*ClientMetrics, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("client metrics must be a JSON object: %w", err)
	}

	m := &ClientMetrics{}
	decodeSection(raw, "network", &m.Network)
	decodeSection(raw, "memory", &m.Memory)
	decodeSection(raw, "battery", &m.Battery)
	decodeSection(raw, "cpu", &m.CPU)
	return m, nil
}

// UnmarshalJSON applies the same lenient decoding as ParseClientMetrics.
func (m *ClientMetrics) UnmarshalJSON(data []byte) error {
	parsed, err := ParseClientMetrics(data)
	if err != nil {
		return err
	}
	*m = *parsed
	return nil
}

func decodeSection[T any](raw map[string]json.RawMessage, key string, dst **T) {
	section, ok := raw[key]
	if !ok || string(section) == "null" {
		return
	}
	var v T
	if err := json.Unmarshal(section, &v); err != nil {
		return
	}
	*dst = &v
}

func (m *ClientMetrics) batteryLevel() (float64, bool) {
	if m.Battery == nil {
		return 0, false
	}
	return batteryLevel(m.Battery.Level)
}

func (m *ClientMetrics) memoryGB() (float64, bool) {
	if m.Memory == nil || m.Memory.MemoryGB == nil {
		return 0, false
	}
	return *m.Memory.MemoryGB, true
}
