// Package tracker follows per-project activity so the chat bridge can
// hand the agent a "resurrection summary" when the user returns to a
// project that has been quiet for a while. Projects are learned from
// explicit Touch calls; activity timestamps persist as preferences.
package tracker

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/omnibrain/omnibrain/internal/store"
)

const (
	projectsKey = "tracker.projects"
	// A project untouched this long counts as dormant and earns a
	// resurrection summary on its next mention.
	dormantAfter = 14 * 24 * time.Hour
)

// Project is one tracked work stream.
type Project struct {
	Name       string    `json:"name"`
	Keywords   []string  `json:"keywords,omitempty"`
	LastActive time.Time `json:"last_active"`
	TouchCount int       `json:"touch_count"`
}

// Tracker maintains the project registry.
type Tracker struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a tracker over the store.
func New(s *store.Store, logger *slog.Logger) *Tracker {
	return &Tracker{store: s, logger: logger, now: time.Now}
}

func (t *Tracker) load() map[string]*Project {
	projects := make(map[string]*Project)
	raw, ok := t.store.GetPreference(projectsKey)
	if !ok {
		return projects
	}
	if err := json.Unmarshal(raw, &projects); err != nil {
		t.logger.Warn("project registry unreadable, starting fresh", "error", err)
		return make(map[string]*Project)
	}
	return projects
}

func (t *Tracker) save(projects map[string]*Project) {
	if err := t.store.SetPreference(projectsKey, projects, 1.0, "tracker"); err != nil {
		t.logger.Warn("project registry not saved", "error", err)
	}
}

// Touch records activity on a project, registering it on first sight.
// Extra keywords widen future mention matching.
func (t *Tracker) Touch(name string, keywords ...string) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return
	}
	projects := t.load()
	p := projects[key]
	if p == nil {
		p = &Project{Name: name}
		projects[key] = p
	}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && !contains(p.Keywords, kw) {
			p.Keywords = append(p.Keywords, kw)
		}
	}
	p.LastActive = t.now().UTC()
	p.TouchCount++
	t.save(projects)
}

// Projects lists tracked projects, most recently active first.
func (t *Tracker) Projects() []*Project {
	projects := t.load()
	out := make([]*Project, 0, len(projects))
	for _, p := range projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActive.After(out[j].LastActive) })
	return out
}

// Match finds the first tracked project mentioned in the message, by
// name or keyword.
func (t *Tracker) Match(message string) *Project {
	lower := strings.ToLower(message)
	for _, p := range t.Projects() {
		if strings.Contains(lower, strings.ToLower(p.Name)) {
			return p
		}
		for _, kw := range p.Keywords {
			if strings.Contains(lower, kw) {
				return p
			}
		}
	}
	return nil
}

// Context returns the prompt context for a message that mentions a
// tracked project: a short status line, expanded into a resurrection
// summary with recent related events when the project has gone
// dormant. Empty when no project is mentioned.
func (t *Tracker) Context(message string) string {
	p := t.Match(message)
	if p == nil {
		return ""
	}

	idle := t.now().UTC().Sub(p.LastActive)
	if idle < dormantAfter {
		return fmt.Sprintf("Active project: %s (last activity %s ago).",
			p.Name, roundDuration(idle))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The user is returning to project %q after %s of inactivity.\n", p.Name, roundDuration(idle))
	events, err := t.store.SearchEvents(p.Name, 5)
	if err == nil && len(events) > 0 {
		b.WriteString("Last known activity:\n")
		for _, e := range events {
			fmt.Fprintf(&b, "- [%s] %s (%s)\n", e.TS.Format("2006-01-02"), e.Title, e.Source)
		}
	}
	return strings.TrimSpace(b.String())
}

func roundDuration(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%d days", int(d.Hours()/24))
	case d >= time.Hour:
		return fmt.Sprintf("%d hours", int(d.Hours()))
	default:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
