package api

import (
	"errors"
	"net/http"

	"github.com/omnibrain/omnibrain/internal/store"
)

func (s *Server) handleSkillList(w http.ResponseWriter, r *http.Request) {
	installed, err := s.deps.Store.ListSkills()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, map[string]any{"skills": installed, "count": len(installed)})
}

// handleSkillInstall re-scans the skill directories and registers the
// named skill. The manifest must already be on disk.
func (s *Server) handleSkillInstall(w http.ResponseWriter, r *http.Request) {
	if s.deps.Skills == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "skill runtime not configured")
		return
	}
	name := r.PathValue("name")
	if err := s.deps.Skills.Discover(r.Context()); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "discover: "+err.Error())
		return
	}
	sk, err := s.deps.Store.GetSkill(name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "no skill.yaml found for "+name)
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, sk)
}

func (s *Server) handleSkillEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if err := s.deps.Store.SetSkillEnabled(name, enabled); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				s.errorResponse(w, http.StatusNotFound, "skill not installed: "+name)
				return
			}
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, map[string]any{"name": name, "enabled": enabled})
	}
}

func (s *Server) handleSkillDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.deps.Store.RemoveSkill(name); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSkillRuntime reports what the runtime has actually loaded, as
// opposed to what the store believes is installed.
func (s *Server) handleSkillRuntime(w http.ResponseWriter, r *http.Request) {
	if s.deps.Skills == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "skill runtime not configured")
		return
	}
	manifests := s.deps.Skills.Skills()
	type loaded struct {
		Name        string   `json:"name"`
		Version     string   `json:"version"`
		Permissions []string `json:"permissions"`
		Triggers    int      `json:"triggers"`
		Enabled     bool     `json:"enabled"`
	}
	out := make([]loaded, 0, len(manifests))
	for _, m := range manifests {
		enabled := false
		if sk, err := s.deps.Store.GetSkill(m.Name); err == nil {
			enabled = sk.Enabled
		}
		out = append(out, loaded{
			Name:        m.Name,
			Version:     m.Version,
			Permissions: m.Permissions,
			Triggers:    len(m.Triggers),
			Enabled:     enabled,
		})
	}
	s.writeJSON(w, map[string]any{"loaded": out, "count": len(out)})
}
