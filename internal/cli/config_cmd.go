// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/edgeroute/internal/config"
)

// NewConfigCmd creates the config command and its subcommands.
func NewConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View or create the configuration file",
		Long:  `Show the effective configuration, write a default file, or print its path.`,
	}
	cmd.AddCommand(newConfigShowCmd(opts), newConfigInitCmd(opts), newConfigPathCmd(opts))
	return cmd
}

func newConfigShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long:  `Print the configuration after file, .env and environment overrides. Secrets are redacted.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return emit(cmd.OutOrStdout(), opts.json, "config show",
				func() (any, error) {
					safe := opts.cfg.Clone()
					if safe.Session.RedisPassword != "" {
						safe.Session.RedisPassword = "[REDACTED]"
					}
					return safe, nil
				},
				func(w io.Writer, _ any) error {
					_, err := fmt.Fprintln(w, opts.cfg.String())
					return err
				})
		},
	}
}

func newConfigInitCmd(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a default configuration file",
		Long:        `Write the default configuration to --config or ~/.edgeroute/config.toml. An existing file is kept unless --force is given.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveConfigPath(opts)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			return emit(cmd.OutOrStdout(), opts.json, "config init",
				func() (any, error) {
					return map[string]string{"path": path}, config.SaveTOML(config.Default(), path)
				},
				func(w io.Writer, _ any) error {
					_, err := fmt.Fprintf(w, "Wrote %s\n", path)
					return err
				})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigPathCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:         "path",
		Short:       "Print the configuration file path",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveConfigPath(opts)
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), opts.json, "config path",
				func() (any, error) { return map[string]string{"path": path}, nil },
				func(w io.Writer, _ any) error {
					_, err := fmt.Fprintln(w, path)
					return err
				})
		},
	}
}

func resolveConfigPath(opts *rootOptions) (string, error) {
	if opts.configPath != "" {
		return config.ExpandHome(opts.configPath), nil
	}
	return config.ConfigPath()
}
