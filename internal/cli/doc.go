// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the edgeroute command line.
//
// # Commands
//
//   - serve:   run the HTTP API
//   - route:   make one routing decision and print it
//   - probe:   measure the host and network and print the signals
//   - config:  show, write or locate the configuration file
//   - version: print build information
//
// Every command accepts --config to pick a TOML file and --json to print
// the standard JSON envelope instead of text.
package cli
