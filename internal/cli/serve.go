// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/edgeroute/internal/config"
	"github.com/jeranaias/edgeroute/internal/offline"
	"github.com/jeranaias/edgeroute/internal/server"
)

// shutdownTimeout bounds graceful shutdown after a signal.
const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve command.
func NewServeCmd(opts *rootOptions) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the routing API server",
		Long: `Start the HTTP API. The server probes its own host and network,
keeps conversation state in the configured session backend and, when
storage is enabled, audits every decision to SQLite.

The config file is watched; edits to routing and generation settings
apply without restart.`,
		Example: `  edgeroute serve
  edgeroute serve --port 9090
  EDGEROUTE_OFFLINE=1 edgeroute serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg.Clone()
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			config.SetGlobal(cfg)

			logger, err := newLogger(cfg.Logging, opts.verbose)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServer(ctx, opts, cfg, logger)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "listen address (overrides server.host)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}

func runServer(ctx context.Context, opts *rootOptions, cfg *config.Config, logger *zap.Logger) error {
	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}()

	srv := server.NewServer(a.router, config.Global).
		WithSessions(a.sessions).
		WithEventLogger(a.events).
		WithGenerator(a.gen).
		WithTelemetry(a.source).
		WithLogger(logger)
	if a.audit != nil {
		srv.WithAuditStore(a.audit)
	}

	watchConfig(ctx, opts.configPath, cfg, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// watchConfig reloads the config file on change. Listen address flags
// given at startup are kept across reloads.
func watchConfig(ctx context.Context, path string, started *config.Config, logger *zap.Logger) {
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return
		}
		path = p
	}
	if _, err := os.Stat(path); err != nil {
		logger.Debug("config file absent, not watching", zap.String("path", path))
		return
	}

	err := config.Watch(ctx, path, config.DefaultWatchDebounce, func(cfg *config.Config, err error) {
		if err != nil {
			logger.Warn("config reload rejected", zap.String("path", path), zap.Error(err))
			return
		}
		cfg.Server.Host = started.Server.Host
		cfg.Server.Port = started.Server.Port
		offline.SetOfflineMode(cfg.Routing.OfflineMode)
		config.SetGlobal(cfg)
		logger.Info("config reloaded",
			zap.String("path", path),
			zap.String("force_venue", cfg.Routing.ForceVenue),
			zap.Bool("offline", cfg.Routing.OfflineMode),
		)
	})
	if err != nil {
		logger.Warn("config watch failed", zap.String("path", path), zap.Error(err))
	}
}
