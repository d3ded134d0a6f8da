// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/edgeroute/internal/metrics"
	"github.com/jeranaias/edgeroute/internal/signal"
)

// =============================================================================
// SERVER SOURCE
// =============================================================================

const (
	// DefaultProbeTimeout bounds one telemetry fetch.
	DefaultProbeTimeout = 2 * time.Second

	// DefaultCacheTTL is how long a server snapshot is reused.
	DefaultCacheTTL = 5 * time.Second
)

// Snapshot is one combined reading of the host and the network.
// A nil reading means the probe failed; the matching error field says why.
type Snapshot struct {
	Timestamp    time.Time       `json:"timestamp"`
	Device       *HostReading    `json:"device,omitempty"`
	DeviceError  string          `json:"device_error,omitempty"`
	Network      *NetworkReading `json:"network,omitempty"`
	NetworkError string          `json:"network_error,omitempty"`
}

// Signals classifies the snapshot with the server-side thresholds.
func (s Snapshot) Signals() Signals {
	sig := Signals{
		Source:  SourceServer,
		Network: signal.NetworkUnknown,
		Device:  signal.DeviceUnknown,
	}
	if s.Device != nil {
		sig.Device = signal.ClassifyHostDevice(s.Device.Metrics())
	}
	if s.Network != nil {
		sig.Network = signal.ClassifyNetworkLabel(s.Network.Quality)
	}
	return sig
}

// ServerSource measures the machine the router runs on.
//
// Device and network probes run concurrently under one deadline. The
// combined snapshot is cached so a burst of decisions does not re-probe.
type ServerSource struct {
	device  DeviceProbe
	network NetworkProbe
	timeout time.Duration
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	cached   *Snapshot
	cachedAt time.Time
}

// ServerOption configures a ServerSource.
type ServerOption func(*ServerSource)

// WithTimeout sets the deadline for one fetch. Zero keeps the default.
func WithTimeout(d time.Duration) ServerOption {
	return func(s *ServerSource) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithCacheTTL sets how long a snapshot is reused. Negative disables caching.
func WithCacheTTL(d time.Duration) ServerOption {
	return func(s *ServerSource) {
		s.ttl = d
	}
}

// WithLogger sets the logger for probe failures.
func WithLogger(logger *zap.Logger) ServerOption {
	return func(s *ServerSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServerSource builds a source from its two probes. Either probe may be
// nil, in which case its signal is always Unknown.
func NewServerSource(device DeviceProbe, network NetworkProbe, opts ...ServerOption) *ServerSource {
	s := &ServerSource{
		device:  device,
		network: network,
		timeout: DefaultProbeTimeout,
		ttl:     DefaultCacheTTL,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Signals implements Source.
func (s *ServerSource) Signals(ctx context.Context) Signals {
	return s.Snapshot(ctx).Signals()
}

// Snapshot returns a fresh or cached reading.
func (s *ServerSource) Snapshot(ctx context.Context) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.ttl > 0 && s.now().Sub(s.cachedAt) < s.ttl {
		return *s.cached
	}

	snap := s.probe(ctx)
	// A reading cut short by the caller says nothing about the host.
	if ctx.Err() != nil {
		return snap
	}
	s.cached = &snap
	s.cachedAt = s.now()
	return snap
}

// Invalidate drops the cached snapshot.
func (s *ServerSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
}

func (s *ServerSource) probe(ctx context.Context) Snapshot {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	snap := Snapshot{Timestamp: s.now()}
	var wg sync.WaitGroup

	if s.device != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reading, err := runProbe(ctx, "device", s.device.DeviceReading)
			if err != nil {
				snap.DeviceError = err.Error()
				s.logger.Warn("device probe failed", zap.Error(err))
				return
			}
			snap.Device = &reading
		}()
	} else {
		snap.DeviceError = "no device probe configured"
	}

	if s.network != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reading, err := runProbe(ctx, "network", s.network.NetworkReading)
			if err != nil {
				snap.NetworkError = err.Error()
				s.logger.Warn("network probe failed", zap.Error(err))
				return
			}
			snap.Network = &reading
		}()
	} else {
		snap.NetworkError = "no network probe configured"
	}

	wg.Wait()
	return snap
}

// runProbe calls fn and gives up when ctx expires, even if fn ignores ctx.
func runProbe[T any](ctx context.Context, name string, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	start := time.Now()
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		r.err = ctx.Err()
	}
	metrics.RecordProbe(name, time.Since(start), r.err)
	return r.val, r.err
}

// =============================================================================
// CLIENT SOURCE
// =============================================================================

// ClientSource classifies telemetry posted by a client. It never blocks.
type ClientSource struct {
	Metrics *signal.ClientMetrics
}

// NewClientSource wraps a client telemetry document.
func NewClientSource(m *signal.ClientMetrics) ClientSource {
	return ClientSource{Metrics: m}
}

// Signals implements Source.
func (c ClientSource) Signals(context.Context) Signals {
	sig := Signals{
		Source:  SourceClient,
		Network: signal.NetworkUnknown,
		Device:  signal.ClassifyClientDevice(c.Metrics),
	}
	if c.Metrics != nil {
		sig.Network = signal.ClassifyClientNetwork(c.Metrics.Network)
	}
	return sig
}
