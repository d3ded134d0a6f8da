// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jeranaias/edgeroute/internal/config"
	"github.com/jeranaias/edgeroute/internal/eventlog"
	"github.com/jeranaias/edgeroute/internal/offline"
	"github.com/jeranaias/edgeroute/internal/ollama"
	"github.com/jeranaias/edgeroute/internal/router"
	"github.com/jeranaias/edgeroute/internal/session"
	"github.com/jeranaias/edgeroute/internal/storage"
	"github.com/jeranaias/edgeroute/internal/telemetry"
)

// newLogger builds the operational logger. verbose forces debug level.
func newLogger(cfg config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

// newSource builds the server-side telemetry source.
func newSource(cfg *config.Config, logger *zap.Logger) *telemetry.ServerSource {
	return telemetry.NewServerSource(
		telemetry.NewHostProbe(),
		telemetry.NewPingProbe(cfg.Telemetry.PingHosts),
		telemetry.WithTimeout(time.Duration(cfg.Telemetry.ProbeTimeoutMS)*time.Millisecond),
		telemetry.WithCacheTTL(time.Duration(cfg.Telemetry.CacheTTLMS)*time.Millisecond),
		telemetry.WithLogger(logger),
	)
}

// app is the set of long-lived components behind the commands.
type app struct {
	logger   *zap.Logger
	source   *telemetry.ServerSource
	events   eventlog.Logger
	router   *router.Router
	sessions *session.Manager
	audit    *storage.DecisionStore
	gen      *ollama.Client

	closers []func() error
}

// newApp wires components from cfg. withState also opens the session
// and audit stores, which only the server needs.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, withState bool) (*app, error) {
	offline.SetOfflineMode(cfg.Routing.OfflineMode)

	a := &app{
		logger: logger,
		source: newSource(cfg, logger),
		events: eventlog.Nop{},
	}

	if cfg.Logging.EventDir != "" {
		fl, err := eventlog.NewFileLogger(config.ExpandHome(cfg.Logging.EventDir), logger)
		if err != nil {
			return nil, err
		}
		a.events = fl
		a.closers = append(a.closers, fl.Close)
	}

	a.router = router.New(a.source,
		router.WithEventLogger(a.events),
		router.WithLogger(logger),
		router.WithDefaultForce(func() string { return config.Global().Routing.ForceVenue }),
	)

	if !withState {
		return a, nil
	}

	store, err := openSessionStore(ctx, cfg.Session)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if c, ok := store.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}
	a.sessions = session.NewManager(store, session.WithLogger(logger))

	if cfg.Storage.Enabled {
		db, err := storage.Open(cfg.Storage.Path)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("open decision store: %w", err)
		}
		a.audit = db
		a.closers = append(a.closers, db.Close)
	}

	a.gen = ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:       cfg.Generation.OllamaURL,
		StreamTimeout: time.Duration(cfg.Generation.TimeoutSecs) * time.Second,
	})
	return a, nil
}

func openSessionStore(ctx context.Context, cfg config.SessionConfig) (session.Store, error) {
	ttl := time.Duration(cfg.TTLHours) * time.Hour
	switch cfg.Backend {
	case "", "memory":
		return session.NewMemoryStore(), nil
	case "file":
		return session.NewFileStore(config.ExpandHome(cfg.Dir))
	case "redis":
		dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return session.DialRedis(dctx, cfg.RedisAddr, cfg.RedisPassword, ttl)
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

// Close releases everything newApp opened, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
