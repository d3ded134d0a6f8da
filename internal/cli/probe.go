// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/edgeroute/internal/telemetry"
)

// ProbeResult is the probe command's output.
type ProbeResult struct {
	System   telemetry.SystemInfo `json:"system"`
	Snapshot telemetry.Snapshot   `json:"snapshot"`
	Signals  telemetry.Signals    `json:"signals"`
}

// NewProbeCmd creates the probe command.
func NewProbeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Measure this host and its network",
		Long: `Run the device and network probes once and show the raw readings with
the signals the router would derive from them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			src := newSource(opts.cfg, quietLogger(opts))

			return emit(cmd.OutOrStdout(), opts.json, "probe",
				func() (any, error) {
					snap := src.Snapshot(ctx)
					return ProbeResult{
						System:   telemetry.ReadSystemInfo(ctx),
						Snapshot: snap,
						Signals:  snap.Signals(),
					}, nil
				},
				func(w io.Writer, v any) error {
					writeProbe(w, v.(ProbeResult))
					return nil
				})
		},
	}
}

func writeProbe(w io.Writer, p ProbeResult) {
	fmt.Fprintf(w, "Host:    %s (%s %s, %s)\n", p.System.Hostname, p.System.Platform, p.System.PlatformVersion, p.System.Architecture)

	if d := p.Snapshot.Device; d != nil {
		fmt.Fprintf(w, "CPU:     %.1f%% of %d cores\n", d.CPUPercent, d.CPUCount)
		fmt.Fprintf(w, "Memory:  %.1f%% used, %.0f MB available\n", d.MemoryPercent, d.MemoryAvailableMB)
		if d.BatteryPercent != nil {
			plugged := "unknown"
			if d.PowerPlugged != nil {
				plugged = fmt.Sprint(*d.PowerPlugged)
			}
			fmt.Fprintf(w, "Battery: %.0f%% (plugged in: %s)\n", *d.BatteryPercent, plugged)
		}
	} else {
		fmt.Fprintf(w, "Device:  probe failed: %s\n", p.Snapshot.DeviceError)
	}

	if n := p.Snapshot.Network; n != nil {
		if n.AvgPingMS != nil {
			fmt.Fprintf(w, "Network: %s (avg %.1fms)\n", n.Quality, *n.AvgPingMS)
		} else {
			fmt.Fprintf(w, "Network: %s\n", n.Quality)
		}
	} else {
		fmt.Fprintf(w, "Network: probe failed: %s\n", p.Snapshot.NetworkError)
	}

	fmt.Fprintf(w, "\nSignals: network=%s device=%s\n", p.Signals.Network, p.Signals.Device)
}
