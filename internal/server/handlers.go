// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/edgeroute/internal/config"
	"github.com/jeranaias/edgeroute/internal/metrics"
	"github.com/jeranaias/edgeroute/internal/offline"
	"github.com/jeranaias/edgeroute/internal/ollama"
	"github.com/jeranaias/edgeroute/internal/router"
	"github.com/jeranaias/edgeroute/internal/session"
	"github.com/jeranaias/edgeroute/internal/signal"
	"github.com/jeranaias/edgeroute/internal/storage"
	"github.com/jeranaias/edgeroute/internal/telemetry"
)

// statusTimeout bounds backend checks made by status endpoints.
const statusTimeout = 2 * time.Second

// ============================================================================
// ROUTE HANDLER
// ============================================================================

// RouteRequest is the body of POST /api/route.
type RouteRequest struct {
	Text           string                `json:"text"`
	ConversationID string                `json:"conversation_id,omitempty"`
	ForcedVenue    string                `json:"forced_venue,omitempty"`
	ClientMetrics  *signal.ClientMetrics `json:"client_metrics,omitempty"`
}

// RouteResponse is the decision plus conversation bookkeeping.
type RouteResponse struct {
	router.Decision
	ConversationID string             `json:"conversation_id,omitempty"`
	Transition     *router.Transition `json:"transition,omitempty"`
}

// handleRoute handles POST /api/route.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Text) > MaxTextLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("text exceeds %d bytes", MaxTextLength))
		return
	}

	ctx := r.Context()
	audit, _, _, _, sessions := s.deps()
	routeReq := router.Request{
		Text:          req.Text,
		ForcedVenue:   req.ForcedVenue,
		ClientMetrics: req.ClientMetrics,
	}

	if req.ConversationID == "" {
		_, d := s.router.SelectVenue(ctx, routeReq)
		s.auditDecision(ctx, audit, "", req.Text, d)
		writeJSON(w, http.StatusOK, RouteResponse{Decision: d})
		return
	}

	var (
		decision   router.Decision
		transition *router.Transition
	)
	_, err := sessions.Update(ctx, req.ConversationID, func(cc *router.ConversationContext) error {
		routeReq.Context = cc
		venue, d := s.router.SelectVenue(ctx, routeReq)
		decision = d

		if prev := cc.LastVenue(); prev != "" && prev != venue.String() {
			s.router.RecordTransitionNames(prev, venue.String(), cc)
			last := cc.Transitions[len(cc.Transitions)-1]
			transition = &last
		}
		cc.AddTurn("user", req.Text, venue.String())
		return nil
	})
	if err != nil {
		s.writeSessionError(w, err)
		return
	}

	s.auditDecision(ctx, audit, req.ConversationID, req.Text, decision)
	if transition != nil {
		s.auditTransition(ctx, audit, req.ConversationID, *transition)
	}

	writeJSON(w, http.StatusOK, RouteResponse{
		Decision:       decision,
		ConversationID: req.ConversationID,
		Transition:     transition,
	})
}

// ============================================================================
// TRANSITION HANDLER
// ============================================================================

// TransitionRequest is the body of POST /api/transition.
type TransitionRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	From           string `json:"from"`
	To             string `json:"to"`
}

// TransitionResponse returns the updated context.
type TransitionResponse struct {
	Context  *router.ConversationContext `json:"context"`
	Metadata router.TransitionMetadata   `json:"metadata"`
}

// handleTransition handles POST /api/transition.
func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.From) == "" || strings.TrimSpace(req.To) == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}

	ctx := r.Context()
	audit, _, _, _, sessions := s.deps()

	if req.ConversationID == "" {
		cc, meta := s.router.RecordTransitionNames(req.From, req.To, nil)
		s.auditTransition(ctx, audit, "", cc.Transitions[len(cc.Transitions)-1])
		writeJSON(w, http.StatusOK, TransitionResponse{Context: cc, Metadata: meta})
		return
	}

	var meta router.TransitionMetadata
	cc, err := sessions.Update(ctx, req.ConversationID, func(cc *router.ConversationContext) error {
		_, meta = s.router.RecordTransitionNames(req.From, req.To, cc)
		return nil
	})
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.auditTransition(ctx, audit, req.ConversationID, cc.Transitions[len(cc.Transitions)-1])
	writeJSON(w, http.StatusOK, TransitionResponse{Context: cc, Metadata: meta})
}

// ============================================================================
// CONVERSATION AND DECISION QUERIES
// ============================================================================

// handleConversation handles GET /api/conversations/{id}.
func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	_, _, _, _, sessions := s.deps()
	cc, err := sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cc)
}

// DecisionsResponse is the body of GET /api/decisions.
type DecisionsResponse struct {
	Decisions   []storage.DecisionRecord `json:"decisions"`
	VenueCounts []storage.VenueCount     `json:"venue_counts"`
}

// handleDecisions handles GET /api/decisions?limit=N.
func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	audit, _, _, _, _ := s.deps()
	if audit == nil {
		writeError(w, http.StatusServiceUnavailable, "decision storage is disabled")
		return
	}

	limit := storage.DefaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	decisions, err := audit.RecentDecisions(r.Context(), limit)
	if err != nil {
		s.logger.Error("recent decisions query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read decisions")
		return
	}
	counts, err := audit.VenueCounts(r.Context())
	if err != nil {
		s.logger.Error("venue counts query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read decisions")
		return
	}
	writeJSON(w, http.StatusOK, DecisionsResponse{Decisions: decisions, VenueCounts: counts})
}

// ============================================================================
// GENERATE HANDLER
// ============================================================================

// GenerateRequest is the body of POST /generate. Omitted parameters take
// the configured defaults.
type GenerateRequest struct {
	Model              string   `json:"model"`
	Prompt             string   `json:"prompt"`
	MaxTokens          *int     `json:"max_tokens,omitempty"`
	Temperature        *float64 `json:"temperature,omitempty"`
	TopP               *float64 `json:"top_p,omitempty"`
	ProcessingLocation string   `json:"processing_location,omitempty"`
}

// resolve fills defaults and validates ranges.
func (g *GenerateRequest) resolve(cfg config.GenerationConfig) (ollama.GenerateRequest, error) {
	out := ollama.GenerateRequest{
		Model:       g.Model,
		Prompt:      g.Prompt,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
	}
	if out.Model == "" {
		out.Model = cfg.DefaultModel
	}
	if strings.TrimSpace(out.Prompt) == "" {
		return out, errors.New("prompt is required")
	}
	if len(out.Prompt) > MaxTextLength {
		return out, fmt.Errorf("prompt exceeds %d bytes", MaxTextLength)
	}
	if g.MaxTokens != nil {
		out.MaxTokens = *g.MaxTokens
	}
	if out.MaxTokens < 1 || out.MaxTokens > MaxTokensLimit {
		return out, fmt.Errorf("max_tokens must be between 1 and %d", MaxTokensLimit)
	}
	if g.Temperature != nil {
		out.Temperature = *g.Temperature
	}
	if out.Temperature < 0 || out.Temperature > 2 {
		return out, errors.New("temperature must be between 0 and 2")
	}
	if g.TopP != nil {
		out.TopP = *g.TopP
	}
	if out.TopP <= 0 || out.TopP > 1 {
		return out, errors.New("top_p must be greater than 0 and at most 1")
	}
	return out, nil
}

// handleGenerate handles POST /generate. Generation always runs on the
// server backend; the ideal venue is reported in VenueHeader.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := s.cfg()
	genReq, err := req.resolve(cfg.Generation)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	modelName := genReq.Model
	if m, ok := cfg.Models[modelName]; ok && m.BackendModel != "" {
		genReq.Model = m.BackendModel
	}

	ctx := r.Context()
	_, gen, _, events, _ := s.deps()

	location := strings.ToLower(strings.TrimSpace(req.ProcessingLocation))
	if location == "" {
		location = router.VenueAutomatic.String()
	}
	events.LogEvent(EventGenerateRequest, map[string]any{
		"model_name":          modelName,
		"prompt_length":       len(genReq.Prompt),
		"max_tokens":          genReq.MaxTokens,
		"temperature":         genReq.Temperature,
		"processing_location": location,
	})

	venue := router.VenueServer
	if location == router.VenueAutomatic.String() {
		var d router.Decision
		venue, d = s.router.SelectVenue(ctx, router.Request{Text: genReq.Prompt})
		events.LogEvent(EventProcessingDecision, d.Fields())
	} else if v, ok := router.ParseVenue(location); ok && v != router.VenueAutomatic {
		venue = v
	}

	if gen == nil {
		writeError(w, http.StatusServiceUnavailable, "generation backend is not configured")
		return
	}

	stream, err := gen.Generate(ctx, genReq)
	if err != nil {
		msg := err.Error()
		if !cfg.ModelCompatible(modelName) {
			msg += fmt.Sprintf(" - This model may be incompatible with the current backend. Try using the '%s' model instead.", cfg.Generation.DefaultModel)
		}
		events.LogEvent(EventGenerateRouteError, map[string]any{"error": err.Error(), "model_name": modelName})
		s.logger.Warn("generation failed to start", zap.String("model", modelName), zap.Error(err))
		writeError(w, generateErrorStatus(err), msg)
		return
	}
	defer stream.Close()

	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set(VenueHeader, venue.String())
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	fragments := metrics.GenerationFragments.WithLabelValues(modelName)
	for {
		frag, err := stream.Next()
		if errors.Is(err, io.EOF) {
			events.LogEvent(EventGenerationComplete, map[string]any{
				"model_name":    modelName,
				"backend_model": stream.Model(),
				"tokens":        stream.Tokens(),
				"done_reason":   stream.DoneReason(),
			})
			s.logger.Debug("generation finished",
				zap.String("model", modelName),
				zap.Int("tokens", stream.Tokens()),
				zap.String("done_reason", stream.DoneReason()))
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Debug("client went away during generation", zap.String("model", modelName))
				return
			}
			events.LogEvent(EventGenerationError, map[string]any{"error": err.Error(), "model_name": modelName})
			s.logger.Warn("generation failed mid-stream", zap.String("model", modelName), zap.Error(err))
			_, _ = io.WriteString(w, "\n\nError during generation: "+err.Error())
			_ = rc.Flush()
			return
		}
		if _, err := io.WriteString(w, frag); err != nil {
			return
		}
		_ = rc.Flush()
		fragments.Inc()
	}
}

func generateErrorStatus(err error) int {
	switch {
	case ollama.IsModelNotFound(err):
		return http.StatusNotFound
	case ollama.IsNotRunning(err):
		return http.StatusServiceUnavailable
	case ollama.IsTimeout(err):
		return http.StatusGatewayTimeout
	case errors.Is(err, ollama.ErrBlocked):
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}

// ============================================================================
// MODEL CHECK
// ============================================================================

// CheckModelResponse is the body returned by POST /check_model.
type CheckModelResponse struct {
	Model      string `json:"model"`
	Compatible bool   `json:"compatible"`
	Message    string `json:"message"`
}

// handleCheckModel handles POST /check_model.
func (s *Server) handleCheckModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model string `json:"model"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg := s.cfg()
	if req.Model == "" {
		req.Model = cfg.Generation.DefaultModel
	}

	compatible := cfg.ModelCompatible(req.Model)
	verb := "is"
	if !compatible {
		verb = "may not be"
	}
	writeJSON(w, http.StatusOK, CheckModelResponse{
		Model:      req.Model,
		Compatible: compatible,
		Message:    fmt.Sprintf("Model %s %s compatible with current system", req.Model, verb),
	})
}

// ============================================================================
// STATUS HANDLERS
// ============================================================================

// SystemInfoResponse is the body of GET /system_info.
type SystemInfoResponse struct {
	System             telemetry.SystemInfo          `json:"system"`
	Network            *telemetry.NetworkReading     `json:"network"`
	NetworkError       string                        `json:"network_error,omitempty"`
	Resources          *telemetry.HostReading        `json:"resources"`
	ResourcesError     string                        `json:"resources_error,omitempty"`
	Signals            telemetry.Signals             `json:"signals"`
	LoadedModels       []string                      `json:"loaded_models"`
	Models             map[string]config.ModelConfig `json:"models"`
	PerformanceTargets config.PerformanceTargets     `json:"performance_targets"`
	Connectivity       string                        `json:"connectivity"`
}

// handleSystemInfo handles GET /system_info.
func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg := s.cfg()
	_, gen, host, _, _ := s.deps()

	resp := SystemInfoResponse{
		System:             telemetry.ReadSystemInfo(ctx),
		LoadedModels:       []string{},
		Models:             cfg.Models,
		PerformanceTargets: cfg.Targets,
		Connectivity:       offline.StatusIndicator(),
	}

	if host != nil {
		snap := host.Snapshot(ctx)
		resp.Network = snap.Network
		resp.NetworkError = snap.NetworkError
		resp.Resources = snap.Device
		resp.ResourcesError = snap.DeviceError
		resp.Signals = snap.Signals()
	} else {
		resp.Signals = telemetry.Signals{Source: telemetry.SourceServer}
	}

	if gen != nil {
		lctx, cancel := context.WithTimeout(ctx, statusTimeout)
		models, err := gen.ListModels(lctx)
		cancel()
		if err == nil {
			for _, m := range models {
				resp.LoadedModels = append(resp.LoadedModels, m.Name)
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	BackendStatus string  `json:"backend_status"`
	Storage       string  `json:"storage"`
	Connectivity  string  `json:"connectivity"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	audit, gen, _, _, _ := s.deps()
	health := HealthResponse{
		Status:        "ok",
		Version:       Version,
		BackendStatus: "not_configured",
		Storage:       "disabled",
		Connectivity:  offline.StatusIndicator(),
		UptimeSeconds: time.Since(s.started).Seconds(),
	}

	if gen != nil {
		ctx, cancel := context.WithTimeout(r.Context(), statusTimeout)
		defer cancel()
		if err := gen.CheckRunning(ctx); err == nil {
			health.BackendStatus = "ok"
		} else {
			health.BackendStatus = "unavailable"
			health.Status = "degraded"
		}
	}
	if audit != nil {
		health.Storage = "enabled"
	}

	writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("conversation store failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "conversation store unavailable")
	}
}

// auditDecision stores d; failures are logged, never returned.
func (s *Server) auditDecision(ctx context.Context, audit AuditStore, convID, text string, d router.Decision) {
	if audit == nil {
		return
	}
	if _, err := audit.SaveDecision(ctx, storage.NewDecisionRecord(convID, text, d)); err != nil {
		s.logger.Warn("decision audit failed", zap.Error(err))
	}
}

func (s *Server) auditTransition(ctx context.Context, audit AuditStore, convID string, t router.Transition) {
	if audit == nil {
		return
	}
	rec := storage.TransitionRecord{
		CreatedAt:      t.Timestamp.UTC(),
		ConversationID: convID,
		From:           t.From,
		To:             t.To,
	}
	if _, err := audit.SaveTransition(ctx, rec); err != nil {
		s.logger.Warn("transition audit failed", zap.Error(err))
	}
}
