// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/edgeroute/internal/config"
	"github.com/jeranaias/edgeroute/internal/eventlog"
	"github.com/jeranaias/edgeroute/internal/ollama"
	"github.com/jeranaias/edgeroute/internal/router"
	"github.com/jeranaias/edgeroute/internal/server"
	"github.com/jeranaias/edgeroute/internal/session"
	"github.com/jeranaias/edgeroute/internal/storage"
	"github.com/jeranaias/edgeroute/internal/telemetry"
)

// =============================================================================
// TEST UTILITIES
// =============================================================================

// stack is a fully wired server over real stores.
type stack struct {
	url    string
	events string
	audit  *storage.DecisionStore
	redis  *miniredis.Miniredis
}

func newStack(t *testing.T) *stack {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Server.RateLimitRPS = 0

	mr := miniredis.RunT(t)
	store, err := session.DialRedis(context.Background(), mr.Addr(), "", time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	audit, err := storage.Open(filepath.Join(dir, "decisions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = audit.Close() })

	events, err := eventlog.NewFileLogger(filepath.Join(dir, "logs"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/generate":
			for _, frag := range []string{"Hi ", "there."} {
				fmt.Fprintf(w, `{"response":%q,"done":false}`+"\n", frag)
			}
			fmt.Fprintln(w, `{"response":"","done":true,"done_reason":"stop"}`)
		case "/api/tags":
			fmt.Fprint(w, `{"models":[]}`)
		default:
			fmt.Fprint(w, "Ollama is running")
		}
	}))
	t.Cleanup(backend.Close)

	// Device and network probes are stubbed so results do not depend on
	// the machine running the tests.
	source := telemetry.NewServerSource(
		telemetry.DeviceProbeFunc(func(context.Context) (telemetry.HostReading, error) {
			return telemetry.HostReading{CPUPercent: 5, MemoryPercent: 20, MemoryAvailableMB: 16000}, nil
		}),
		telemetry.NetworkProbeFunc(func(context.Context) (telemetry.NetworkReading, error) {
			return telemetry.NetworkReading{Quality: "excellent"}, nil
		}),
	)

	r := router.New(source, router.WithEventLogger(events))
	srv := server.NewServer(r, func() *config.Config { return cfg }).
		WithSessions(session.NewManager(store)).
		WithAuditStore(audit).
		WithEventLogger(events).
		WithTelemetry(source).
		WithGenerator(ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: backend.URL}))

	h, err := srv.Handler()
	require.NoError(t, err)
	front := httptest.NewServer(h)
	t.Cleanup(front.Close)

	return &stack{url: front.URL, events: events.Path(), audit: audit, redis: mr}
}

func (s *stack) post(t *testing.T, path, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(s.url+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (s *stack) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(s.url + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

// =============================================================================
// END TO END
// =============================================================================

func TestIntegration_ConversationLifecycle(t *testing.T) {
	s := newStack(t)

	resp, body := s.post(t, "/api/route", `{"conversation_id":"kitchen-1","text":"hello"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var first server.RouteResponse
	require.NoError(t, json.Unmarshal(body, &first))
	assert.Equal(t, router.VenueLocal, first.Venue)

	resp, body = s.post(t, "/api/route", `{"conversation_id":"kitchen-1","text":"what was that recipe I mentioned before"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var second server.RouteResponse
	require.NoError(t, json.Unmarshal(body, &second))
	assert.Equal(t, router.VenueServer, second.Venue)
	require.NotNil(t, second.Transition)

	// The conversation lives in redis.
	assert.True(t, s.redis.Exists(session.RedisKeyPrefix+"kitchen-1"))

	resp, body = s.get(t, "/api/conversations/kitchen-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cc router.ConversationContext
	require.NoError(t, json.Unmarshal(body, &cc))
	assert.Len(t, cc.History, 2)
	require.Len(t, cc.Transitions, 1)
	assert.Equal(t, "local", cc.Transitions[0].From)

	// Both decisions and the transition are audited.
	counts, err := s.audit.VenueCounts(context.Background())
	require.NoError(t, err)
	var total int64
	for _, c := range counts {
		total += c.Count
	}
	assert.Equal(t, int64(2), total)

	trs, err := s.audit.ConversationTransitions(context.Background(), "kitchen-1")
	require.NoError(t, err)
	assert.Len(t, trs, 1)
}

func TestIntegration_GenerateAndEvents(t *testing.T) {
	s := newStack(t)

	resp, body := s.post(t, "/generate", `{"prompt":"hello there"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "Hi there.", string(body))
	assert.Equal(t, "local", resp.Header.Get(server.VenueHeader))

	data, err := os.ReadFile(s.events)
	require.NoError(t, err)
	var types []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var ev struct {
			Type string         `json:"event_type"`
			Data map[string]any `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &ev), line)
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, server.EventGenerateRequest)
	assert.Contains(t, types, server.EventProcessingDecision)
	assert.Contains(t, types, router.EventDecision)
}

func TestIntegration_StatusEndpoints(t *testing.T) {
	s := newStack(t)

	resp, body := s.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health server.HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "enabled", health.Storage)

	resp, body = s.get(t, "/system_info")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info server.SystemInfoResponse
	require.NoError(t, json.Unmarshal(body, &info))
	require.NotNil(t, info.Network)
	assert.Equal(t, "excellent", info.Network.Quality)
	assert.Equal(t, []string{}, info.LoadedModels)

	resp, body = s.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "edgeroute_http_requests_total")
}
