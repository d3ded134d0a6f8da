// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/edgeroute/internal/config"
	"github.com/jeranaias/edgeroute/internal/ollama"
	"github.com/jeranaias/edgeroute/internal/router"
	"github.com/jeranaias/edgeroute/internal/signal"
	"github.com/jeranaias/edgeroute/internal/storage"
	"github.com/jeranaias/edgeroute/internal/telemetry"
)

// =============================================================================
// FIXTURES
// =============================================================================

type fixedSource telemetry.Signals

func (f fixedSource) Signals(context.Context) telemetry.Signals { return telemetry.Signals(f) }

var goodServer = fixedSource{
	Source:  telemetry.SourceServer,
	Network: signal.NetworkGood,
	Device:  signal.DeviceOptimal,
}

type fixedSnapshot struct{}

func (fixedSnapshot) Snapshot(context.Context) telemetry.Snapshot {
	return telemetry.Snapshot{
		Timestamp: time.Now(),
		Device:    &telemetry.HostReading{CPUPercent: 12, MemoryPercent: 30, MemoryAvailableMB: 8000},
		Network:   &telemetry.NetworkReading{Quality: "good", PingResults: []float64{20, 22}},
	}
}

type recordingEvents struct {
	mu     sync.Mutex
	events []string
	data   []map[string]any
}

func (r *recordingEvents) LogEvent(eventType string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	r.data = append(r.data, data)
}

func (r *recordingEvents) find(eventType string) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.events {
		if e == eventType {
			return r.data[i]
		}
	}
	return nil
}

func newTestServer(t *testing.T) (*Server, *recordingEvents) {
	t.Helper()
	events := &recordingEvents{}
	cfg := config.Default()
	r := router.New(goodServer, router.WithEventLogger(events))
	s := NewServer(r, func() *config.Config { return cfg }).
		WithEventLogger(events).
		WithTelemetry(fixedSnapshot{})
	return s, events
}

// fakeOllama serves /api/generate with the given NDJSON lines and
// /api/tags with one model. The returned func lists requested models.
func fakeOllama(t *testing.T, lines ...string) (*ollama.Client, func() []string) {
	t.Helper()
	var (
		mu     sync.Mutex
		models []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, "Ollama is running")
		case "/api/tags":
			fmt.Fprint(w, `{"models":[{"name":"llamba-3b"}]}`)
		case "/api/generate":
			var body struct {
				Model string `json:"model"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			models = append(models, body.Model)
			mu.Unlock()
			if body.Model == "missing" {
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, `{"error":"model 'missing' not found"}`)
				return
			}
			for _, l := range lines {
				fmt.Fprintln(w, l)
				w.(http.Flusher).Flush()
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	requested := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), models...)
	}
	return ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: srv.URL, Timeout: 5 * time.Second}), requested
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// =============================================================================
// ROUTE
// =============================================================================

func TestHandleRoute_Stateless(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s.mux, http.MethodPost, "/api/route", `{"text":"compare the two phone plans"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[map[string]any](t, w)
	assert.Equal(t, "server", resp["decision"])
	assert.Equal(t, "complex", resp["command_complexity"])
	assert.Equal(t, "good", resp["network_condition"])
	assert.Equal(t, "server", resp["metrics_source"])
	assert.Equal(t, false, resp["forced"])
	assert.NotContains(t, resp, "conversation_id")
}

func TestHandleRoute_ClientMetricsWin(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"text":"compare the two phone plans","client_metrics":{"network":{"effectiveType":"offline"}}}`
	w := do(t, s.mux, http.MethodPost, "/api/route", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[map[string]any](t, w)
	assert.Equal(t, "local", resp["decision"])
	assert.Equal(t, "client", resp["metrics_source"])
}

func TestHandleRoute_EmptyClientMetricsFallBackToServer(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"text":"what is the weather","client_metrics":{}}`
	w := do(t, s.mux, http.MethodPost, "/api/route", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[map[string]any](t, w)
	assert.Equal(t, "server", resp["decision"])
	assert.Equal(t, "server", resp["metrics_source"])
	assert.Equal(t, "good", resp["network_condition"])
}

func TestHandleRoute_Forced(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s.mux, http.MethodPost, "/api/route", `{"text":"hello","forced_venue":"SERVER"}`)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[map[string]any](t, w)
	assert.Equal(t, "server", resp["decision"])
	assert.Equal(t, true, resp["forced"])
}

func TestHandleRoute_ConversationRecordsTransition(t *testing.T) {
	s, _ := newTestServer(t)
	db, err := storage.Open(filepath.Join(t.TempDir(), "decisions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s.WithAuditStore(db)

	w := do(t, s.mux, http.MethodPost, "/api/route", `{"text":"hello","conversation_id":"conv-1"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode[RouteResponse](t, w)
	assert.Equal(t, router.VenueLocal, first.Venue)
	assert.Nil(t, first.Transition)

	w = do(t, s.mux, http.MethodPost, "/api/route", `{"text":"compare the two phone plans","conversation_id":"conv-1"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	second := decode[RouteResponse](t, w)
	assert.Equal(t, router.VenueServer, second.Venue)
	require.NotNil(t, second.Transition)
	assert.Equal(t, "local", second.Transition.From)
	assert.Equal(t, "server", second.Transition.To)

	w = do(t, s.mux, http.MethodGet, "/api/conversations/conv-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	cc := decode[router.ConversationContext](t, w)
	assert.Len(t, cc.History, 2)
	assert.Len(t, cc.Transitions, 1)

	recs, err := db.ConversationTransitions(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "server", recs[0].To)

	w = do(t, s.mux, http.MethodGet, "/api/decisions?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[DecisionsResponse](t, w)
	assert.Len(t, got.Decisions, 2)
	assert.Equal(t, "server", got.Decisions[0].Venue, "newest first")
}

func TestHandleRoute_BadRequests(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"text":`},
		{"unsafe conversation id", `{"text":"hi","conversation_id":"../etc"}`},
		{"client metrics not an object", `{"text":"hi","client_metrics":[1,2]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s.mux, http.MethodPost, "/api/route", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			resp := decode[map[string]map[string]any](t, w)
			assert.NotEmpty(t, resp["error"]["message"])
		})
	}
}

// =============================================================================
// TRANSITION AND QUERIES
// =============================================================================

func TestHandleTransition(t *testing.T) {
	s, events := newTestServer(t)

	w := do(t, s.mux, http.MethodPost, "/api/transition", `{"from":"Local","to":"server"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[TransitionResponse](t, w)
	require.Len(t, resp.Context.Transitions, 1)
	assert.Equal(t, "local", resp.Context.Transitions[0].From)
	assert.NotNil(t, events.find(router.EventTransition))

	w = do(t, s.mux, http.MethodPost, "/api/transition", `{"conversation_id":"c2","from":"server","to":"local"}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, s.mux, http.MethodPost, "/api/transition", `{"conversation_id":"c2","from":"local","to":"server"}`)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode[TransitionResponse](t, w)
	assert.Len(t, resp.Context.Transitions, 2)
}

func TestHandleTransition_RequiresVenues(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(t, s.mux, http.MethodPost, "/api/transition", `{"from":"local"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleConversation_NotFound(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(t, s.mux, http.MethodGet, "/api/conversations/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleDecisions_Disabled(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(t, s.mux, http.MethodGet, "/api/decisions", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// =============================================================================
// GENERATE
// =============================================================================

func TestHandleGenerate_Streams(t *testing.T) {
	s, events := newTestServer(t)
	gen, models := fakeOllama(t,
		`{"model":"llama3.2:3b","response":"Hello","done":false}`,
		`{"model":"llama3.2:3b","response":" there","done":false}`,
		`{"model":"llama3.2:3b","response":"","done":true,"done_reason":"stop","eval_count":2}`,
	)
	s.WithGenerator(gen)

	w := do(t, s.mux, http.MethodPost, "/generate", `{"model":"llamba-3b","prompt":"hello"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Hello there", w.Body.String())
	assert.Equal(t, "local", w.Header().Get(VenueHeader))
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))

	cfg := config.DefaultModels()
	assert.Equal(t, []string{cfg["llamba-3b"].BackendModel}, models())

	req := events.find(EventGenerateRequest)
	require.NotNil(t, req)
	assert.Equal(t, "llamba-3b", req["model_name"])
	assert.Equal(t, "automatic", req["processing_location"])
	assert.NotNil(t, events.find(EventProcessingDecision))

	done := events.find(EventGenerationComplete)
	require.NotNil(t, done)
	assert.Equal(t, "llama3.2:3b", done["backend_model"])
	assert.Equal(t, 2, done["tokens"])
	assert.Equal(t, "stop", done["done_reason"])
}

func TestHandleGenerate_ExplicitLocation(t *testing.T) {
	s, events := newTestServer(t)
	gen, _ := fakeOllama(t, `{"response":"ok","done":true}`)
	s.WithGenerator(gen)

	w := do(t, s.mux, http.MethodPost, "/generate", `{"prompt":"compare these","processing_location":"local"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "local", w.Header().Get(VenueHeader))
	assert.Nil(t, events.find(EventProcessingDecision))
}

func TestHandleGenerate_MidStreamError(t *testing.T) {
	s, events := newTestServer(t)
	gen, _ := fakeOllama(t,
		`{"response":"partial","done":false}`,
		`{"error":"out of memory"}`,
	)
	s.WithGenerator(gen)

	w := do(t, s.mux, http.MethodPost, "/generate", `{"prompt":"hello"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "partial\n\nError during generation: "), w.Body.String())
	assert.NotNil(t, events.find(EventGenerationError))
}

func TestHandleGenerate_Errors(t *testing.T) {
	s, events := newTestServer(t)

	w := do(t, s.mux, http.MethodPost, "/generate", `{"prompt":"hello"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "no backend configured")

	gen, _ := fakeOllama(t)
	s.WithGenerator(gen)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"empty prompt", `{"prompt":"  "}`, http.StatusBadRequest},
		{"max tokens too large", `{"prompt":"hi","max_tokens":100000}`, http.StatusBadRequest},
		{"temperature out of range", `{"prompt":"hi","temperature":3}`, http.StatusBadRequest},
		{"top_p zero", `{"prompt":"hi","top_p":0}`, http.StatusBadRequest},
		{"model not found", `{"prompt":"hi","model":"missing"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s.mux, http.MethodPost, "/generate", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	routeErr := events.find(EventGenerateRouteError)
	require.NotNil(t, routeErr)
	assert.Equal(t, "missing", routeErr["model_name"])
}

func TestHandleGenerate_IncompatibleHint(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"unsupported architecture"}`)
	}))
	t.Cleanup(srv.Close)
	s.WithGenerator(ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: srv.URL}))

	w := do(t, s.mux, http.MethodPost, "/generate", `{"prompt":"hi","model":"llamba-1b"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	resp := decode[map[string]map[string]any](t, w)
	assert.Contains(t, resp["error"]["message"], "Try using the 'rene' model instead")
}

// =============================================================================
// MODEL CHECK AND STATUS
// =============================================================================

func TestHandleCheckModel(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		body       string
		model      string
		compatible bool
	}{
		{`{"model":"llamba-3b"}`, "llamba-3b", true},
		{`{"model":"llamba-1b"}`, "llamba-1b", false},
		{`{"model":"unheard-of"}`, "unheard-of", false},
		{`{}`, "rene", true},
	}
	for _, tt := range tests {
		w := do(t, s.mux, http.MethodPost, "/check_model", tt.body)
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[CheckModelResponse](t, w)
		assert.Equal(t, tt.model, resp.Model)
		assert.Equal(t, tt.compatible, resp.Compatible, tt.model)
		if tt.compatible {
			assert.Equal(t, "Model "+tt.model+" is compatible with current system", resp.Message)
		} else {
			assert.Equal(t, "Model "+tt.model+" may not be compatible with current system", resp.Message)
		}
	}
}

func TestHandleSystemInfo(t *testing.T) {
	s, _ := newTestServer(t)
	gen, _ := fakeOllama(t)
	s.WithGenerator(gen)

	w := do(t, s.mux, http.MethodGet, "/system_info", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[SystemInfoResponse](t, w)
	assert.NotEmpty(t, resp.System.GoVersion)
	require.NotNil(t, resp.Network)
	assert.Equal(t, "good", resp.Network.Quality)
	assert.Equal(t, signal.DeviceOptimal, resp.Signals.Device)
	assert.Equal(t, []string{"llamba-3b"}, resp.LoadedModels)
	assert.Contains(t, resp.Models, "rene")
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s.mux, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, Version, resp.Version)
	assert.Equal(t, "not_configured", resp.BackendStatus)

	s.WithGenerator(ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second}))
	w = do(t, s.mux, http.MethodGet, "/health", "")
	resp = decode[HealthResponse](t, w)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "unavailable", resp.BackendStatus)
}

// =============================================================================
// MIDDLEWARE CHAIN
// =============================================================================

func TestHandler_Chain(t *testing.T) {
	s, _ := newTestServer(t)
	h, err := s.Handler()
	require.NoError(t, err)

	w := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "edgeroute_http_requests_total")

	w = do(t, h, http.MethodGet, "/api/route", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandler_BadTrustedProxies(t *testing.T) {
	cfg := config.Default()
	cfg.Server.TrustedProxies = []string{"not-a-cidr"}
	s := NewServer(router.New(goodServer), func() *config.Config { return cfg })
	_, err := s.Handler()
	assert.Error(t, err)
}

func TestServe_Shutdown(t *testing.T) {
	s, _ := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, <-done)
}
