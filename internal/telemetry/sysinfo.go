// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
)

// SystemInfo describes the host for /system_info.
type SystemInfo struct {
	Hostname        string `json:"hostname"`
	Platform        string `json:"platform"`
	Distribution    string `json:"distribution,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
	KernelVersion   string `json:"kernel_version,omitempty"`
	Architecture    string `json:"architecture"`
	Processor       string `json:"processor,omitempty"`
	GoVersion       string `json:"go_version"`
	UptimeSeconds   uint64 `json:"uptime_seconds,omitempty"`
}

// ReadSystemInfo collects static host details. Fields gopsutil cannot read
// fall back to the Go runtime's view; it never fails.
func ReadSystemInfo(ctx context.Context) SystemInfo {
	info := SystemInfo{
		Platform:     runtime.GOOS,
		Architecture: runtime.GOARCH,
		GoVersion:    runtime.Version(),
	}
	if name, err := os.Hostname(); err == nil {
		info.Hostname = name
	}

	if hi, err := host.InfoWithContext(ctx); err == nil {
		if hi.Hostname != "" {
			info.Hostname = hi.Hostname
		}
		if hi.OS != "" {
			info.Platform = hi.OS
		}
		info.Distribution = hi.Platform
		info.PlatformVersion = hi.PlatformVersion
		info.KernelVersion = hi.KernelVersion
		if hi.KernelArch != "" {
			info.Architecture = hi.KernelArch
		}
		info.UptimeSeconds = hi.Uptime
	}

	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		info.Processor = cpus[0].ModelName
	}
	return info
}
