// Package api implements the daemon's HTTP surface: the /api/v1 REST
// routes, the SSE chat stream, the /feed WebSocket, and the embedded
// dashboard.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/omnibrain/omnibrain/internal/briefing"
	"github.com/omnibrain/omnibrain/internal/buildinfo"
	"github.com/omnibrain/omnibrain/internal/chat"
	"github.com/omnibrain/omnibrain/internal/events"
	"github.com/omnibrain/omnibrain/internal/knowledge"
	"github.com/omnibrain/omnibrain/internal/llm"
	"github.com/omnibrain/omnibrain/internal/memory"
	"github.com/omnibrain/omnibrain/internal/oauth"
	"github.com/omnibrain/omnibrain/internal/patterns"
	"github.com/omnibrain/omnibrain/internal/proactive"
	"github.com/omnibrain/omnibrain/internal/skills"
	"github.com/omnibrain/omnibrain/internal/store"
	"github.com/omnibrain/omnibrain/internal/web"
)

// Deps carries the subsystems the API exposes. Store is required;
// every other slot may be nil and its routes then answer 503.
type Deps struct {
	Store        *store.Store
	Bridge       *chat.Bridge
	Memory       *memory.Memory
	Router       *llm.Router
	Generator    *briefing.Generator
	Review       *briefing.ReviewEngine
	Graph        *knowledge.Graph
	Detector     *patterns.Detector
	Skills       *skills.Runtime
	OAuth        *oauth.Manager
	Transparency *llm.Transparency
	Engine       *proactive.Engine
	Bus          *events.Bus
	Dashboard    *web.Server
}

// Server is the HTTP API server.
type Server struct {
	addr   string
	apiKey string
	deps   Deps
	logger *slog.Logger
	server *http.Server
	feed   *feedHub
}

// NewServer builds the server. An empty apiKey disables auth.
func NewServer(host string, port int, apiKey string, deps Deps, logger *slog.Logger) *Server {
	return &Server{
		addr:   fmt.Sprintf("%s:%d", host, port),
		apiKey: apiKey,
		deps:   deps,
		logger: logger,
		feed:   newFeedHub(deps.Bus, logger),
	}
}

// Handler assembles the full route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)

	mux.HandleFunc("GET /api/v1/briefing", s.handleBriefingGet)
	mux.HandleFunc("POST /api/v1/briefing/generate", s.handleBriefingGenerate)
	mux.HandleFunc("GET /api/v1/briefing/data", s.handleBriefingData)

	mux.HandleFunc("GET /api/v1/proposals", s.handleProposalList)
	mux.HandleFunc("POST /api/v1/proposals/{id}/approve", s.handleProposalDecision(store.ProposalApproved))
	mux.HandleFunc("POST /api/v1/proposals/{id}/reject", s.handleProposalDecision(store.ProposalRejected))
	mux.HandleFunc("POST /api/v1/proposals/{id}/snooze", s.handleProposalSnooze)

	mux.HandleFunc("GET /api/v1/search", s.handleSearch)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/contacts", s.handleContacts)

	mux.HandleFunc("POST /api/v1/message", s.handleMessage)
	mux.HandleFunc("POST /api/v1/chat", s.handleChatStream)
	mux.HandleFunc("GET /api/v1/chat/sessions", s.handleChatSessions)
	mux.HandleFunc("DELETE /api/v1/chat/sessions/{id}", s.handleChatSessionDelete)
	mux.HandleFunc("GET /api/v1/chat/history", s.handleChatHistory)

	mux.HandleFunc("GET /api/v1/skills", s.handleSkillList)
	mux.HandleFunc("POST /api/v1/skills/{name}/install", s.handleSkillInstall)
	mux.HandleFunc("POST /api/v1/skills/{name}/enable", s.handleSkillEnabled(true))
	mux.HandleFunc("POST /api/v1/skills/{name}/disable", s.handleSkillEnabled(false))
	mux.HandleFunc("DELETE /api/v1/skills/{name}", s.handleSkillDelete)
	mux.HandleFunc("GET /api/v1/skills/runtime", s.handleSkillRuntime)

	mux.HandleFunc("GET /api/v1/settings", s.handleSettingsGet)
	mux.HandleFunc("PUT /api/v1/settings", s.handleSettingsPut)
	mux.HandleFunc("POST /api/v1/onboarding/analyze", s.handleOnboardingAnalyze)
	mux.HandleFunc("POST /api/v1/onboarding/profile", s.handleOnboardingProfile)

	mux.HandleFunc("GET /api/v1/oauth/google", s.handleOAuthRedirect)
	mux.HandleFunc("GET /api/v1/oauth/google/callback", s.handleOAuthCallback)
	mux.HandleFunc("GET /api/v1/oauth/status", s.handleOAuthStatus)
	mux.HandleFunc("POST /api/v1/oauth/disconnect", s.handleOAuthDisconnect)

	mux.HandleFunc("GET /api/v1/knowledge/query", s.handleKnowledgeQuery)
	mux.HandleFunc("GET /api/v1/knowledge/contact/{id}", s.handleKnowledgeContact)
	mux.HandleFunc("GET /api/v1/patterns", s.handlePatterns)
	mux.HandleFunc("GET /api/v1/patterns/weekly", s.handlePatternsWeekly)

	mux.HandleFunc("GET /api/v1/transparency/calls", s.handleTransparencyCalls)
	mux.HandleFunc("GET /api/v1/transparency/stats", s.handleTransparencyStats)
	mux.HandleFunc("GET /api/v1/transparency/daily-costs", s.handleTransparencyDailyCosts)

	mux.HandleFunc("GET /api/v1/feed", s.feed.handleWS)

	if s.deps.Dashboard != nil {
		s.deps.Dashboard.Routes(mux)
	}

	return s.withLogging(s.withAuth(mux))
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	if s.deps.Bus != nil {
		go s.feed.run(ctx)
	}
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: chat SSE and /feed are long-lived.
	}
	s.logger.Info("api server listening", "addr", s.addr, "auth", s.apiKey != "")
	return s.server.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// withAuth enforces X-API-Key on /api/v1 routes. Health stays open so
// probes work without the key, as does everything outside the API
// base path (dashboard).
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" ||
			!strings.HasPrefix(r.URL.Path, "/api/v1/") ||
			r.URL.Path == "/api/v1/health" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			s.errorResponse(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"version":        buildinfo.Version,
		"uptime_seconds": int(buildinfo.Uptime().Seconds()),
		"stats":          s.deps.Store.Stats(),
	}
	if s.deps.Engine != nil {
		status["engine"] = s.deps.Engine.Status()
	}
	s.writeJSON(w, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.deps.Store.Stats())
}

// writeJSON encodes v to w. Encode errors usually mean the client
// disconnected mid-response.
func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("response write failed", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": message, "code": code},
	}); err != nil {
		s.logger.Debug("error response write failed", "error", err)
	}
}

func parseIntParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
