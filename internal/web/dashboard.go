package web

import (
	"bytes"
	"html/template"
	"net/http"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/omnibrain/omnibrain/internal/buildinfo"
	"github.com/omnibrain/omnibrain/internal/store"
)

// briefingMarkdown renders stored briefing Markdown. GFM for the
// tables the weekly review emits.
var briefingMarkdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// DashboardData is the template context for the overview page.
type DashboardData struct {
	Version      string
	Uptime       time.Duration
	Status       map[string]any
	Stats        map[string]any
	BriefingHTML template.HTML
	BriefingType string
	Proposals    []*store.Proposal
	Events       []*store.Event
	Contacts     []*store.Contact
	BotUsername  string
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	data := DashboardData{
		Version:     buildinfo.Version,
		Uptime:      buildinfo.Uptime(),
		Stats:       s.store.Stats(),
		BotUsername: s.botUsername,
	}
	if s.statusFunc != nil {
		data.Status = s.statusFunc()
	}

	data.BriefingHTML, data.BriefingType = s.todaysBriefing()

	if proposals, err := s.store.ListPendingProposals(); err == nil {
		data.Proposals = proposals
	}
	if events, err := s.store.QueryEvents(store.EventFilter{
		Since: time.Now().Add(-24 * time.Hour), Limit: 15,
	}); err == nil {
		data.Events = events
	}
	if contacts, err := s.store.ListContacts(5); err == nil {
		data.Contacts = contacts
	}

	s.render(w, "dashboard.html", data)
}

// todaysBriefing renders the most recent briefing generated today,
// preferring evening over morning.
func (s *Server) todaysBriefing() (template.HTML, string) {
	today := time.Now().Format("2006-01-02")
	for _, briefingType := range []string{store.BriefingEvening, store.BriefingMorning, store.BriefingWeekly} {
		b, err := s.store.LatestBriefing(briefingType)
		if err != nil || b.Date != today {
			continue
		}
		var buf bytes.Buffer
		if err := briefingMarkdown.Convert([]byte(b.Content), &buf); err != nil {
			s.logger.Warn("briefing render failed", "type", briefingType, "error", err)
			continue
		}
		return template.HTML(buf.String()), briefingType
	}
	return "", ""
}
