package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/omnibrain/omnibrain/internal/store"
)

// handleSettingsGet returns all stored preferences. Credentials never
// live in preferences, so nothing needs redacting.
func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.deps.Store.AllPreferences()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, map[string]any{"settings": prefs})
}

// handleSettingsPut upserts preference keys from a flat JSON object.
func (s *Server) handleSettingsPut(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body) == 0 {
		s.errorResponse(w, http.StatusBadRequest, "no settings provided")
		return
	}

	updated := make([]string, 0, len(body))
	for key, value := range body {
		if strings.TrimSpace(key) == "" {
			continue
		}
		if err := s.deps.Store.SetPreference(key, value, 1.0, "user"); err != nil {
			s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("set %s: %v", key, err))
			return
		}
		updated = append(updated, key)
	}
	s.writeJSON(w, map[string]any{"updated": updated})
}

// handleOnboardingAnalyze inspects what the collectors have gathered
// so far and suggests a starting profile.
func (s *Server) handleOnboardingAnalyze(w http.ResponseWriter, r *http.Request) {
	stats := s.deps.Store.Stats()
	contacts, _ := s.deps.Store.ListContacts(10)
	weekAgo := time.Now().AddDate(0, 0, -7)
	recentEvents, _ := s.deps.Store.CountEventsSince(weekAgo)

	sources := make(map[string]int)
	if evs, err := s.deps.Store.QueryEvents(store.EventFilter{Since: weekAgo, Limit: 500}); err == nil {
		for _, e := range evs {
			sources[e.Source]++
		}
	}

	suggestions := []string{}
	if recentEvents == 0 {
		suggestions = append(suggestions, "No events collected yet; connect email or calendar first.")
	}
	if sources["gmail"] == 0 && sources["email"] == 0 {
		suggestions = append(suggestions, "Email is not flowing; configure IMAP or connect Google.")
	}
	if len(contacts) > 0 {
		suggestions = append(suggestions, fmt.Sprintf("Mark frequent contacts as VIPs; %s is your most active.", contacts[0].Name))
	}

	s.writeJSON(w, map[string]any{
		"stats":              stats,
		"events_last_week":   recentEvents,
		"events_by_source":   sources,
		"frequent_contacts":  contacts,
		"suggestions":        suggestions,
		"profile_configured": s.deps.Store.PreferenceString("user.name", "") != "",
	})
}

type onboardingProfile struct {
	Name        string            `json:"name"`
	Timezone    string            `json:"timezone,omitempty"`
	Role        string            `json:"role,omitempty"`
	VIPs        []string          `json:"vips,omitempty"` // contact emails
	Preferences map[string]string `json:"preferences,omitempty"`
}

// handleOnboardingProfile persists the user's profile as preferences
// and seeds VIP contacts.
func (s *Server) handleOnboardingProfile(w http.ResponseWriter, r *http.Request) {
	var p onboardingProfile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(p.Name) == "" {
		s.errorResponse(w, http.StatusBadRequest, "name is required")
		return
	}

	set := func(key string, value any) {
		if err := s.deps.Store.SetPreference(key, value, 1.0, "onboarding"); err != nil {
			s.logger.Warn("profile preference not saved", "key", key, "error", err)
		}
	}
	set("user.name", p.Name)
	if p.Timezone != "" {
		set("user.timezone", p.Timezone)
	}
	if p.Role != "" {
		set("user.role", p.Role)
	}
	for key, value := range p.Preferences {
		set("user."+key, value)
	}

	for _, email := range p.VIPs {
		err := s.deps.Store.UpsertContact(&store.Contact{
			Email:                email,
			Relationship:         "colleague",
			AvgResponseTimeHours: 1,
			Notes:                "marked VIP during onboarding",
		})
		if err != nil {
			s.logger.Warn("vip contact not saved", "email", email, "error", err)
		}
	}

	s.writeJSON(w, map[string]any{"status": "ok", "name": p.Name, "vips": len(p.VIPs)})
}
