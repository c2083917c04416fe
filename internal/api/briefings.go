package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/omnibrain/omnibrain/internal/store"
)

func validBriefingType(t string) bool {
	return t == store.BriefingMorning || t == store.BriefingEvening || t == store.BriefingWeekly
}

// handleBriefingGet returns the latest stored briefing of the
// requested type (default morning).
func (s *Server) handleBriefingGet(w http.ResponseWriter, r *http.Request) {
	briefingType := r.URL.Query().Get("type")
	if briefingType == "" {
		briefingType = store.BriefingMorning
	}
	if !validBriefingType(briefingType) {
		s.errorResponse(w, http.StatusBadRequest, "unknown briefing type: "+briefingType)
		return
	}

	b, err := s.deps.Store.LatestBriefing(briefingType)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "no "+briefingType+" briefing yet")
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, b)
}

// handleBriefingGenerate builds and stores a fresh briefing.
func (s *Server) handleBriefingGenerate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Generator == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "briefing generator not configured")
		return
	}
	briefingType := r.URL.Query().Get("type")
	if briefingType == "" {
		briefingType = store.BriefingMorning
	}
	if !validBriefingType(briefingType) {
		s.errorResponse(w, http.StatusBadRequest, "unknown briefing type: "+briefingType)
		return
	}

	b, err := s.deps.Generator.Generate(r.Context(), briefingType)
	if err != nil {
		s.logger.Error("briefing generation failed", "type", briefingType, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "generation failed: "+err.Error())
		return
	}
	s.writeJSON(w, b)
}

// handleBriefingData returns the structured aggregates a briefing is
// built from, without generating Markdown.
func (s *Server) handleBriefingData(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	todayEvents, err := s.deps.Store.QueryEvents(store.EventFilter{Since: dayStart, Limit: 100})
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	meetings, _ := s.deps.Store.QueryEvents(store.EventFilter{
		Source: "calendar", Since: dayStart, Until: dayStart.Add(24 * time.Hour), Limit: 50,
	})
	proposals, _ := s.deps.Store.ListPendingProposals()
	vips, _ := s.deps.Store.ListVIPs()

	s.writeJSON(w, map[string]any{
		"date":              now.Format("2006-01-02"),
		"events_today":      todayEvents,
		"meetings_today":    meetings,
		"pending_proposals": proposals,
		"vips":              vips,
	})
}
