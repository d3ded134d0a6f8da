// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/jeranaias/edgeroute/internal/server"
)

// Version information (set at build time).
var (
	Version   = server.Version
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// SetVersion overrides the build information.
func SetVersion(version, commit, date string) {
	if version != "" {
		Version = version
	}
	GitCommit = commit
	BuildDate = date
}

// VersionInfo is the version command's output.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// NewVersionCmd creates the version command.
func NewVersionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Show version information",
		Long:        `Display version, commit hash, build date and Go runtime for edgeroute.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			info := VersionInfo{
				Version:   Version,
				GitCommit: GitCommit,
				BuildDate: BuildDate,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			}
			return emit(cmd.OutOrStdout(), opts.json, "version",
				func() (any, error) { return info, nil },
				func(w io.Writer, _ any) error {
					fmt.Fprintf(w, "edgeroute %s\n", info.Version)
					fmt.Fprintf(w, "Commit:   %s\n", info.GitCommit)
					fmt.Fprintf(w, "Built:    %s\n", info.BuildDate)
					fmt.Fprintf(w, "Go:       %s %s\n", info.GoVersion, info.Platform)
					return nil
				})
		},
	}
}
