// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jeranaias/edgeroute/internal/config"
	"github.com/jeranaias/edgeroute/internal/eventlog"
	"github.com/jeranaias/edgeroute/internal/ollama"
	"github.com/jeranaias/edgeroute/internal/router"
	"github.com/jeranaias/edgeroute/internal/session"
	"github.com/jeranaias/edgeroute/internal/storage"
	"github.com/jeranaias/edgeroute/internal/telemetry"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize is the maximum size for request body (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxTextLength bounds a routed command or a prompt, in bytes.
	MaxTextLength = 100000

	// MaxTokensLimit is the maximum value for max_tokens.
	MaxTokensLimit = 8192

	// VenueHeader carries the ideal venue on /generate responses.
	VenueHeader = "X-Edgeroute-Venue"

	// Version is the server version.
	Version = "0.1.0"
)

// Event types written by the server.
const (
	EventGenerateRequest    = "generate_request"
	EventProcessingDecision = "processing_decision"
	EventGenerationError    = "generation_error"
	EventGenerateRouteError = "generate_route_error"
	EventGenerationComplete = "generation_complete"
)

// ============================================================================
// DEPENDENCIES
// ============================================================================

// Generator is the text generation backend.
type Generator interface {
	Generate(ctx context.Context, req ollama.GenerateRequest) (*ollama.Stream, error)
	CheckRunning(ctx context.Context) error
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
}

// AuditStore records decisions and transitions.
type AuditStore interface {
	SaveDecision(ctx context.Context, rec storage.DecisionRecord) (string, error)
	SaveTransition(ctx context.Context, rec storage.TransitionRecord) (string, error)
	RecentDecisions(ctx context.Context, limit int) ([]storage.DecisionRecord, error)
	VenueCounts(ctx context.Context) ([]storage.VenueCount, error)
}

// Snapshotter exposes raw server telemetry.
type Snapshotter interface {
	Snapshot(ctx context.Context) telemetry.Snapshot
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the edgeroute HTTP API.
type Server struct {
	cfg      func() *config.Config
	router   *router.Router
	sessions *session.Manager
	audit    AuditStore
	events   eventlog.Logger
	gen      Generator
	host     Snapshotter
	logger   *zap.Logger

	mux     *http.ServeMux
	server  *http.Server
	started time.Time

	mu sync.RWMutex
}

// NewServer creates a Server around r. cfg is read on every request so a
// reloaded configuration takes effect without restart; nil means
// config.Global.
func NewServer(r *router.Router, cfg func() *config.Config) *Server {
	if cfg == nil {
		cfg = config.Global
	}
	s := &Server{
		cfg:      cfg,
		router:   r,
		sessions: session.NewManager(session.NewMemoryStore()),
		events:   eventlog.Nop{},
		logger:   zap.NewNop(),
		mux:      http.NewServeMux(),
		started:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// WithSessions sets the conversation manager.
func (s *Server) WithSessions(m *session.Manager) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = m
	return s
}

// WithAuditStore sets the decision audit store. Nil disables auditing.
func (s *Server) WithAuditStore(a AuditStore) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = a
	return s
}

// WithEventLogger sets the event log.
func (s *Server) WithEventLogger(l eventlog.Logger) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l != nil {
		s.events = l
	}
	return s
}

// WithGenerator sets the generation backend.
func (s *Server) WithGenerator(g Generator) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen = g
	return s
}

// WithTelemetry sets the source reported by /system_info.
func (s *Server) WithTelemetry(t Snapshotter) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.host = t
	return s
}

// WithLogger sets the operational logger.
func (s *Server) WithLogger(l *zap.Logger) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l != nil {
		s.logger = l
	}
	return s
}

func (s *Server) deps() (AuditStore, Generator, Snapshotter, eventlog.Logger, *session.Manager) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audit, s.gen, s.host, s.events, s.sessions
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	// Routing API
	s.mux.HandleFunc("POST /api/route", s.handleRoute)
	s.mux.HandleFunc("POST /api/transition", s.handleTransition)
	s.mux.HandleFunc("GET /api/conversations/{id}", s.handleConversation)
	s.mux.HandleFunc("GET /api/decisions", s.handleDecisions)

	// Generation
	s.mux.HandleFunc("POST /generate", s.handleGenerate)
	s.mux.HandleFunc("POST /check_model", s.handleCheckModel)

	// Status
	s.mux.HandleFunc("GET /system_info", s.handleSystemInfo)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() (http.Handler, error) {
	cfg := s.cfg()
	proxies, err := NewTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}

	cors := DefaultCORSConfig()
	if len(cfg.Server.CORSOrigins) > 0 {
		cors.AllowedOrigins = cfg.Server.CORSOrigins
	}

	s.mu.RLock()
	logger := s.logger
	s.mu.RUnlock()

	return Chain(
		RecoveryMiddleware(logger),
		SecurityHeadersMiddleware(),
		CORSMiddleware(cors),
		LoggingMiddleware(logger, proxies),
		RateLimitMiddleware(NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst), proxies),
	)(s.mux), nil
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.server = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv := s.server
	logger := s.logger
	s.mu.Unlock()

	logger.Info("server started", zap.String("addr", ln.Addr().String()), zap.String("version", Version))
	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	addr := s.cfg().Server.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	logger := s.logger
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	logger.Info("server shutting down")
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errorType(status),
			"code":    status,
		},
	})
}

func errorType(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "rate_limit_error"
	case status == http.StatusNotFound:
		return "not_found_error"
	case status >= 500:
		return "server_error"
	default:
		return "invalid_request_error"
	}
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v as is.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
	}
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
