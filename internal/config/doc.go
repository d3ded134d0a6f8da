// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for edgeroute.
//
// # Key Types
//
//   - Config: complete configuration, one section per component
//   - ModelConfig: model registry entry used by /check_model
//   - PerformanceTargets: targets reported by /system_info
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (SERVER_*, EDGEROUTE_*, REDIS_PASSWORD), including
//     those from a .env file
//   - ~/.edgeroute/config.toml, or the file given with --config
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	config.SetGlobal(cfg)
//
// Reload on change:
//
//	err := config.Watch(ctx, path, 0, func(cfg *config.Config, err error) {
//	    if err == nil {
//	        config.SetGlobal(cfg)
//	    }
//	})
package config
