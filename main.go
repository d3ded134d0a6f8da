// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command edgeroute routes voice-assistant commands between device and
// server.
package main

import (
	"fmt"
	"os"

	"github.com/jeranaias/edgeroute/internal/cli"
)

// Version information (set at build time)
var (
	version   = ""
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.SetVersion(version, gitCommit, buildDate)
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
