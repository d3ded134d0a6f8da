// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"errors"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/edgeroute/internal/offline"
)

// DefaultPingHosts are well-known anycast resolvers.
var DefaultPingHosts = []string{"8.8.8.8", "1.1.1.1", "208.67.222.222"}

// ErrNoReplies is returned when no ping host answered.
var ErrNoReplies = errors.New("no successful pings")

const (
	// pingProbeTimeout applies when the caller's context has no deadline.
	pingProbeTimeout = 3 * time.Second

	excellentBelowMS = 50
	goodBelowMS      = 100
	fairBelowMS      = 200
)

var pingTimeRe = regexp.MustCompile(`time[=<]([0-9]+(?:\.[0-9]+)?) ?ms`)

// PingRunner sends one echo request to host and returns the raw output.
type PingRunner func(ctx context.Context, host string) ([]byte, error)

// PingProbe estimates link quality from round-trip time to a set of hosts.
type PingProbe struct {
	hosts []string
	run   PingRunner
	now   func() time.Time
}

// NewPingProbe returns a probe that shells out to the system ping.
// A nil or empty host list uses DefaultPingHosts.
func NewPingProbe(hosts []string) *PingProbe {
	if len(hosts) == 0 {
		hosts = DefaultPingHosts
	}
	return &PingProbe{hosts: hosts, run: systemPing, now: time.Now}
}

// NewPingProbeWithRunner returns a probe using a custom runner.
func NewPingProbeWithRunner(hosts []string, run PingRunner) *PingProbe {
	p := NewPingProbe(hosts)
	p.run = run
	return p
}

// NetworkReading pings every host concurrently and classifies the mean RTT.
// In offline mode it reports "offline" without sending anything.
func (p *PingProbe) NetworkReading(ctx context.Context) (NetworkReading, error) {
	reading := NetworkReading{Timestamp: p.now(), PingResults: []float64{}}
	if offline.CheckNetworkAllowed() != nil {
		reading.Quality = "offline"
		return reading, nil
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pingProbeTimeout)
		defer cancel()
	}

	var (
		mu      sync.Mutex
		results = make([]float64, 0, len(p.hosts))
		g       errgroup.Group
	)
	for _, host := range p.hosts {
		g.Go(func() error {
			out, err := p.run(ctx, host)
			if err != nil {
				return nil
			}
			if ms, ok := ParsePingTime(out); ok {
				mu.Lock()
				results = append(results, ms)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(results) == 0 {
		reading.Quality = "unknown"
		if err := ctx.Err(); err != nil {
			return reading, err
		}
		return reading, ErrNoReplies
	}

	var sum float64
	for _, ms := range results {
		sum += ms
	}
	avg := sum / float64(len(results))
	reading.AvgPingMS = &avg
	reading.PingResults = results
	reading.Quality = QualityForLatency(avg)
	return reading, nil
}

// QualityForLatency maps a mean round-trip time to a quality label.
func QualityForLatency(avgMS float64) string {
	switch {
	case avgMS < excellentBelowMS:
		return "excellent"
	case avgMS < goodBelowMS:
		return "good"
	case avgMS < fairBelowMS:
		return "fair"
	default:
		return "poor"
	}
}

// ParsePingTime extracts the round-trip time from ping output.
// Handles both "time=12.3 ms" (Unix) and "time<1ms" (Windows).
func ParsePingTime(out []byte) (float64, bool) {
	m := pingTimeRe.FindSubmatch(out)
	if m == nil {
		return 0, false
	}
	ms, err := strconv.ParseFloat(string(m[1]), 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}

func systemPing(ctx context.Context, host string) ([]byte, error) {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "ping", "-n", "1", "-w", "1000", host)
	} else {
		cmd = exec.CommandContext(ctx, "ping", "-c", "1", "-W", "1", host)
	}
	return cmd.Output()
}
