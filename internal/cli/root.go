// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/edgeroute/internal/config"
)

// skipConfigAnnotation marks commands that run without loading config.
const skipConfigAnnotation = "edgeroute/skip-config"

// rootOptions holds global flags and the config they resolve to.
type rootOptions struct {
	configPath string
	json       bool
	verbose    bool

	cfg *config.Config
}

// NewRootCmd creates the edgeroute command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "edgeroute",
		Short: "Route voice-assistant commands between device and server",
		Long: `edgeroute decides, per command, whether processing should run on the
user's device or on the server. It combines command complexity with
network and device telemetry and serves the decision over HTTP.

Configuration is read from ~/.edgeroute/config.toml (or --config),
then overridden by environment variables and a .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			config.SetGlobal(cfg)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ~/.edgeroute/config.toml)")
	cmd.PersistentFlags().BoolVar(&opts.json, "json", false, "print output as JSON")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(
		NewServeCmd(opts),
		NewRouteCmd(opts),
		NewProbeCmd(opts),
		NewConfigCmd(opts),
		NewVersionCmd(opts),
	)
	return cmd
}

// Execute runs the root command.
func Execute() error {
	if err := NewRootCmd().Execute(); err != nil {
		return fmt.Errorf("edgeroute: %w", err)
	}
	return nil
}
