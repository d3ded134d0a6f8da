// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/edgeroute/internal/router"
	"github.com/jeranaias/edgeroute/internal/signal"
)

// NewRouteCmd creates the route command.
func NewRouteCmd(opts *rootOptions) *cobra.Command {
	var (
		force         string
		clientMetrics string
	)

	cmd := &cobra.Command{
		Use:   "route TEXT...",
		Short: "Decide where one command should run",
		Long: `Classify TEXT and select a venue using this machine's telemetry, or
the client telemetry given with --client-metrics.`,
		Example: `  edgeroute route turn off the lights
  edgeroute route --force server compare these two plans
  edgeroute route --client-metrics '{"network":{"effectiveType":"2g"}}' explain that
  edgeroute route --json hello`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := router.Request{
				Text:        strings.Join(args, " "),
				ForcedVenue: force,
			}
			if clientMetrics != "" {
				m, err := signal.ParseClientMetrics([]byte(clientMetrics))
				if err != nil {
					return err
				}
				req.ClientMetrics = m
			}

			a, err := newApp(cmd.Context(), opts.cfg, quietLogger(opts), false)
			if err != nil {
				return err
			}
			defer a.Close()

			return emit(cmd.OutOrStdout(), opts.json, "route",
				func() (any, error) {
					_, d := a.router.SelectVenue(cmd.Context(), req)
					return d, nil
				},
				func(w io.Writer, v any) error {
					d := v.(router.Decision)
					fmt.Fprintf(w, "%s\n", d.Venue)
					fmt.Fprintf(w, "  reason:     %s\n", d.Reason)
					fmt.Fprintf(w, "  rule:       %s\n", d.Rule)
					fmt.Fprintf(w, "  complexity: %s\n", d.Complexity)
					fmt.Fprintf(w, "  network:    %s\n", d.Network)
					fmt.Fprintf(w, "  device:     %s\n", d.Device)
					fmt.Fprintf(w, "  source:     %s\n", d.MetricsSource)
					fmt.Fprintf(w, "  took:       %.3fms\n", d.DecisionTimeMS)
					return nil
				})
		},
	}

	cmd.Flags().StringVarP(&force, "force", "f", "", "force a venue (local, server, hybrid)")
	cmd.Flags().StringVar(&clientMetrics, "client-metrics", "", "client telemetry as JSON")
	return cmd
}

// quietLogger is the logger for one-shot commands: warnings only unless
// --verbose.
func quietLogger(opts *rootOptions) *zap.Logger {
	cfg := opts.cfg.Logging
	if !opts.verbose {
		cfg.Level = "warn"
	}
	logger, err := newLogger(cfg, opts.verbose)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
