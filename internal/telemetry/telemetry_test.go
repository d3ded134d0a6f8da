// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/distatus/battery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/edgeroute/internal/offline"
	"github.com/jeranaias/edgeroute/internal/signal"
)

func healthyHost(context.Context) (HostReading, error) {
	return HostReading{CPUPercent: 10, MemoryPercent: 20, MemoryAvailableMB: 16000, MemoryTotalMB: 32000}, nil
}

func fixedNetwork(quality string) NetworkProbeFunc {
	return func(context.Context) (NetworkReading, error) {
		return NetworkReading{Quality: quality}, nil
	}
}

// =============================================================================
// SERVER SOURCE
// =============================================================================

func TestServerSource_Signals(t *testing.T) {
	src := NewServerSource(DeviceProbeFunc(healthyHost), fixedNetwork("good"))
	sig := src.Signals(context.Background())

	assert.Equal(t, SourceServer, sig.Source)
	assert.Equal(t, signal.DeviceOptimal, sig.Device)
	assert.Equal(t, signal.NetworkGood, sig.Network)
}

func TestServerSource_ProbeErrorsDegradeToUnknown(t *testing.T) {
	failing := DeviceProbeFunc(func(context.Context) (HostReading, error) {
		return HostReading{}, errors.New("no /proc")
	})
	noNet := NetworkProbeFunc(func(context.Context) (NetworkReading, error) {
		return NetworkReading{Quality: "unknown"}, ErrNoReplies
	})

	snap := NewServerSource(failing, noNet).Snapshot(context.Background())
	assert.Nil(t, snap.Device)
	assert.Equal(t, "no /proc", snap.DeviceError)
	assert.Equal(t, ErrNoReplies.Error(), snap.NetworkError)

	sig := snap.Signals()
	assert.Equal(t, signal.DeviceUnknown, sig.Device)
	assert.Equal(t, signal.NetworkUnknown, sig.Network)
}

func TestServerSource_NilProbes(t *testing.T) {
	sig := NewServerSource(nil, nil).Signals(context.Background())
	assert.Equal(t, signal.DeviceUnknown, sig.Device)
	assert.Equal(t, signal.NetworkUnknown, sig.Network)
}

func TestServerSource_TimeoutBoundsSlowProbe(t *testing.T) {
	// This probe ignores its context entirely.
	stuck := NetworkProbeFunc(func(context.Context) (NetworkReading, error) {
		time.Sleep(2 * time.Second)
		return NetworkReading{Quality: "excellent"}, nil
	})

	src := NewServerSource(DeviceProbeFunc(healthyHost), stuck, WithTimeout(50*time.Millisecond))
	start := time.Now()
	sig := src.Signals(context.Background())

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, signal.NetworkUnknown, sig.Network)
	assert.Equal(t, signal.DeviceOptimal, sig.Device)
}

func TestServerSource_Cache(t *testing.T) {
	var calls atomic.Int32
	counting := NetworkProbeFunc(func(context.Context) (NetworkReading, error) {
		calls.Add(1)
		return NetworkReading{Quality: "fair"}, nil
	})

	now := time.Unix(1_700_000_000, 0)
	src := NewServerSource(DeviceProbeFunc(healthyHost), counting, WithCacheTTL(5*time.Second))
	src.now = func() time.Time { return now }

	src.Signals(context.Background())
	src.Signals(context.Background())
	assert.Equal(t, int32(1), calls.Load(), "second call within TTL should hit the cache")

	now = now.Add(6 * time.Second)
	src.Signals(context.Background())
	assert.Equal(t, int32(2), calls.Load(), "expired cache should re-probe")

	src.Invalidate()
	src.Signals(context.Background())
	assert.Equal(t, int32(3), calls.Load())
}

func TestServerSource_CancelledCallerNotCached(t *testing.T) {
	var calls atomic.Int32
	counting := NetworkProbeFunc(func(ctx context.Context) (NetworkReading, error) {
		calls.Add(1)
		if err := ctx.Err(); err != nil {
			return NetworkReading{Quality: "unknown"}, err
		}
		return NetworkReading{Quality: "excellent"}, nil
	})
	src := NewServerSource(DeviceProbeFunc(healthyHost), counting, WithCacheTTL(time.Minute))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	sig := src.Signals(cancelled)
	assert.Equal(t, signal.NetworkUnknown, sig.Network)

	sig = src.Signals(context.Background())
	assert.Equal(t, signal.NetworkExcellent, sig.Network)
	assert.Equal(t, signal.DeviceOptimal, sig.Device)
	assert.Equal(t, int32(2), calls.Load())

	src.Signals(context.Background())
	assert.Equal(t, int32(2), calls.Load(), "healthy reading should be cached")
}

func TestServerSource_CacheDisabled(t *testing.T) {
	var calls atomic.Int32
	counting := NetworkProbeFunc(func(context.Context) (NetworkReading, error) {
		calls.Add(1)
		return NetworkReading{Quality: "good"}, nil
	})
	src := NewServerSource(nil, counting, WithCacheTTL(-1))
	src.Signals(context.Background())
	src.Signals(context.Background())
	assert.Equal(t, int32(2), calls.Load())
}

// =============================================================================
// CLIENT SOURCE
// =============================================================================

func TestClientSource_Signals(t *testing.T) {
	level := 10.0
	src := NewClientSource(&signal.ClientMetrics{
		Network: &signal.ClientNetwork{EffectiveType: "4g"},
		Battery: &signal.ClientBattery{Level: &level},
	})
	sig := src.Signals(context.Background())

	assert.Equal(t, SourceClient, sig.Source)
	assert.Equal(t, signal.NetworkGood, sig.Network)
	assert.Equal(t, signal.DeviceCritical, sig.Device)
}

func TestClientSource_NilMetrics(t *testing.T) {
	sig := NewClientSource(nil).Signals(context.Background())
	assert.Equal(t, signal.NetworkUnknown, sig.Network)
	assert.Equal(t, signal.DeviceUnknown, sig.Device)
}

// =============================================================================
// PING PROBE
// =============================================================================

func TestParsePingTime(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   float64
		ok     bool
	}{
		{"linux", "64 bytes from 1.1.1.1: icmp_seq=1 ttl=57 time=12.4 ms", 12.4, true},
		{"macos", "64 bytes from 8.8.8.8: icmp_seq=0 ttl=117 time=23.117 ms", 23.117, true},
		{"windows", "Reply from 8.8.8.8: bytes=32 time=18ms TTL=117", 18, true},
		{"windows sub-ms", "Reply from 127.0.0.1: bytes=32 time<1ms TTL=128", 1, true},
		{"timeout", "Request timeout for icmp_seq 0", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParsePingTime([]byte(tt.output))
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 0.0001)
		})
	}
}

func TestQualityForLatency(t *testing.T) {
	assert.Equal(t, "excellent", QualityForLatency(12))
	assert.Equal(t, "good", QualityForLatency(50))
	assert.Equal(t, "good", QualityForLatency(99.9))
	assert.Equal(t, "fair", QualityForLatency(150))
	assert.Equal(t, "poor", QualityForLatency(200))
}

func TestPingProbe_AveragesReplies(t *testing.T) {
	replies := map[string]string{
		"a": "time=40.0 ms",
		"b": "time=80.0 ms",
		"c": "",
	}
	probe := NewPingProbeWithRunner([]string{"a", "b", "c"}, func(_ context.Context, host string) ([]byte, error) {
		if replies[host] == "" {
			return nil, errors.New("exit status 1")
		}
		return []byte(replies[host]), nil
	})

	reading, err := probe.NetworkReading(context.Background())
	require.NoError(t, err)
	require.NotNil(t, reading.AvgPingMS)
	assert.InDelta(t, 60.0, *reading.AvgPingMS, 0.001)
	assert.Len(t, reading.PingResults, 2)
	assert.Equal(t, "good", reading.Quality)
}

func TestPingProbe_NoReplies(t *testing.T) {
	probe := NewPingProbeWithRunner([]string{"a"}, func(context.Context, string) ([]byte, error) {
		return nil, errors.New("unreachable")
	})
	reading, err := probe.NetworkReading(context.Background())
	assert.ErrorIs(t, err, ErrNoReplies)
	assert.Equal(t, "unknown", reading.Quality)
	assert.Nil(t, reading.AvgPingMS)
}

func TestPingProbe_OfflineModeSkipsNetwork(t *testing.T) {
	original := offline.IsOfflineMode()
	defer offline.SetOfflineMode(original)
	offline.SetOfflineMode(true)

	probe := NewPingProbeWithRunner(nil, func(context.Context, string) ([]byte, error) {
		t.Fatal("ping must not run in offline mode")
		return nil, nil
	})
	reading, err := probe.NetworkReading(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "offline", reading.Quality)
	assert.Equal(t, signal.NetworkOffline, signal.ClassifyNetworkLabel(reading.Quality))
}

// =============================================================================
// HOST PROBE
// =============================================================================

func TestHostProbe_ReadBattery(t *testing.T) {
	p := &HostProbe{batteries: func() ([]*battery.Battery, error) {
		return []*battery.Battery{
			{Full: 0},
			{Current: 30, Full: 60, State: battery.State{Raw: battery.Charging}},
		}, nil
	}}

	percent, plugged := p.readBattery()
	require.NotNil(t, percent)
	require.NotNil(t, plugged)
	assert.InDelta(t, 50.0, *percent, 0.001)
	assert.True(t, *plugged)
}

func TestHostProbe_NoBattery(t *testing.T) {
	p := &HostProbe{batteries: func() ([]*battery.Battery, error) {
		return nil, errors.New("no batteries")
	}}
	percent, plugged := p.readBattery()
	assert.Nil(t, percent)
	assert.Nil(t, plugged)
}
