package api

import (
	"net/http"

	"github.com/omnibrain/omnibrain/internal/store"
)

func (s *Server) handleTransparencyCalls(w http.ResponseWriter, r *http.Request) {
	if s.deps.Transparency == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "transparency not configured")
		return
	}
	calls, err := s.deps.Transparency.Calls(store.LLMCallFilter{
		Source:   r.URL.Query().Get("source"),
		Provider: r.URL.Query().Get("provider"),
		Limit:    parseIntParam(r, "limit", 50),
	})
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, map[string]any{"calls": calls, "count": len(calls)})
}

func (s *Server) handleTransparencyStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Transparency == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "transparency not configured")
		return
	}
	stats, err := s.deps.Transparency.Stats(parseIntParam(r, "days", 30))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, stats)
}

func (s *Server) handleTransparencyDailyCosts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Transparency == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "transparency not configured")
		return
	}
	costs, err := s.deps.Transparency.DailyCosts(parseIntParam(r, "days", 30))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, map[string]any{"daily": costs})
}
