// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/distatus/battery"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

const (
	// cpuSampleInterval is how long CPU usage is sampled per reading.
	cpuSampleInterval = 250 * time.Millisecond

	// hostProbeTimeout applies when the caller's context has no deadline.
	hostProbeTimeout = 3 * time.Second

	bytesPerMB = 1024 * 1024
)

// HostProbe reads CPU, memory and battery state of the local machine.
type HostProbe struct {
	batteries func() ([]*battery.Battery, error)
	now       func() time.Time
}

// NewHostProbe returns a probe backed by the operating system.
func NewHostProbe() *HostProbe {
	return &HostProbe{
		batteries: battery.GetAll,
		now:       time.Now,
	}
}

// DeviceReading samples the host. CPU and memory failures are errors;
// a missing or unreadable battery is reported as no battery.
func (p *HostProbe) DeviceReading(ctx context.Context) (HostReading, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hostProbeTimeout)
		defer cancel()
	}

	reading := HostReading{Timestamp: p.now()}

	percents, err := cpu.PercentWithContext(ctx, cpuSampleInterval, false)
	if err != nil {
		return reading, fmt.Errorf("sample cpu: %w", err)
	}
	if len(percents) > 0 {
		reading.CPUPercent = percents[0]
	}
	if count, err := cpu.CountsWithContext(ctx, true); err == nil {
		reading.CPUCount = count
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return reading, fmt.Errorf("read memory: %w", err)
	}
	reading.MemoryTotalMB = float64(vm.Total) / bytesPerMB
	reading.MemoryAvailableMB = float64(vm.Available) / bytesPerMB
	reading.MemoryPercent = vm.UsedPercent

	reading.BatteryPercent, reading.PowerPlugged = p.readBattery()
	return reading, nil
}

// readBattery returns the first battery with a usable capacity.
func (p *HostProbe) readBattery() (*float64, *bool) {
	if p.batteries == nil {
		return nil, nil
	}
	// GetAll may return partial results alongside an error.
	batteries, _ := p.batteries()
	for _, b := range batteries {
		if b == nil || b.Full <= 0 {
			continue
		}
		percent := b.Current / b.Full * 100
		if percent > 100 {
			percent = 100
		}
		plugged := b.State.Raw == battery.Charging || b.State.Raw == battery.Full
		return &percent, &plugged
	}
	return nil, nil
}
