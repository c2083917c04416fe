package api

import (
	"net/http"
	"strings"

	"github.com/omnibrain/omnibrain/internal/memory"
	"github.com/omnibrain/omnibrain/internal/store"
)

// handleSearch runs a combined search: event FTS plus memory
// documents when memory is wired.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		s.errorResponse(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := parseIntParam(r, "limit", 20)

	evs, err := s.deps.Store.SearchEvents(query, limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if src := r.URL.Query().Get("source"); src != "" {
		filtered := evs[:0]
		for _, e := range evs {
			if e.Source == src {
				filtered = append(filtered, e)
			}
		}
		evs = filtered
	}

	result := map[string]any{"query": query, "events": evs}
	if s.deps.Memory != nil {
		docs, err := s.deps.Memory.Search(r.Context(), query, memory.SearchOptions{MaxResults: limit})
		if err != nil {
			s.logger.Warn("memory search failed", "error", err)
		} else {
			result["documents"] = docs
		}
	}
	s.writeJSON(w, result)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	evs, err := s.deps.Store.QueryEvents(store.EventFilter{
		Source:    r.URL.Query().Get("source"),
		EventType: r.URL.Query().Get("type"),
		Limit:     parseIntParam(r, "limit", 50),
	})
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, map[string]any{"events": evs, "count": len(evs)})
}

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.deps.Store.ListContacts(parseIntParam(r, "limit", 50))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, map[string]any{"contacts": contacts, "count": len(contacts)})
}

func (s *Server) handleKnowledgeQuery(w http.ResponseWriter, r *http.Request) {
	if s.deps.Graph == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "knowledge graph not configured")
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		s.errorResponse(w, http.StatusBadRequest, "q is required")
		return
	}
	answer, err := s.deps.Graph.Query(r.Context(), query)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, answer)
}

func (s *Server) handleKnowledgeContact(w http.ResponseWriter, r *http.Request) {
	if s.deps.Graph == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "knowledge graph not configured")
		return
	}
	summary, err := s.deps.Graph.ContactSummary(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, summary)
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Detector == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "pattern detector not configured")
		return
	}
	detected, err := s.deps.Detector.Detect(
		parseIntParam(r, "min_occurrences", 3),
		0.5,
		parseIntParam(r, "days", 30),
	)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, map[string]any{"patterns": detected, "count": len(detected)})
}

func (s *Server) handlePatternsWeekly(w http.ResponseWriter, r *http.Request) {
	if s.deps.Review == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "review engine not configured")
		return
	}
	review, err := s.deps.Review.WeeklyReview()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, review)
}
