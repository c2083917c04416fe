package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/omnibrain/omnibrain/internal/store"
)

func (s *Server) handleProposalList(w http.ResponseWriter, r *http.Request) {
	var (
		proposals []*store.Proposal
		err       error
	)
	if r.URL.Query().Get("all") == "true" {
		proposals, err = s.deps.Store.ListProposals(parseIntParam(r, "limit", 50))
	} else {
		proposals, err = s.deps.Store.ListPendingProposals()
	}
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, map[string]any{"proposals": proposals, "count": len(proposals)})
}

func (s *Server) proposalID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid proposal id")
		return 0, false
	}
	return id, true
}

// handleProposalDecision approves or rejects a pending proposal.
func (s *Server) handleProposalDecision(status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.proposalID(w, r)
		if !ok {
			return
		}
		var body struct {
			Result string `json:"result"`
		}
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				s.errorResponse(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}

		if err := s.deps.Store.UpdateProposalStatus(id, status, body.Result); err != nil {
			s.proposalUpdateError(w, id, err)
			return
		}
		s.recordDecision(status)
		s.writeJSON(w, map[string]any{"id": id, "status": status})
	}
}

func (s *Server) handleProposalSnooze(w http.ResponseWriter, r *http.Request) {
	id, ok := s.proposalID(w, r)
	if !ok {
		return
	}
	var body struct {
		Hours int `json:"hours"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if body.Hours <= 0 {
		body.Hours = 24
	}

	until := time.Now().Add(time.Duration(body.Hours) * time.Hour)
	if err := s.deps.Store.SnoozeProposal(id, until); err != nil {
		s.proposalUpdateError(w, id, err)
		return
	}
	s.writeJSON(w, map[string]any{"id": id, "status": store.ProposalSnoozed, "until": until})
}

func (s *Server) proposalUpdateError(w http.ResponseWriter, id int64, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "proposal not found")
		return
	}
	s.logger.Error("proposal update failed", "id", id, "error", err)
	s.errorResponse(w, http.StatusConflict, err.Error())
}

// recordDecision feeds approval decisions back into the pattern
// detector so proposal quality is learnable.
func (s *Server) recordDecision(status string) {
	if s.deps.Detector == nil {
		return
	}
	if _, err := s.deps.Detector.ObserveAction("proposal_"+status, nil); err != nil {
		s.logger.Debug("decision observation failed", "error", err)
	}
}
