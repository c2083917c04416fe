package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/omnibrain/omnibrain/internal/agent"
	"github.com/omnibrain/omnibrain/internal/memory"
	"github.com/omnibrain/omnibrain/internal/store"
)

const metadataExcerptLimit = 80

// buildLiveContext assembles the per-turn context block appended to
// the system prompt: clock, identity, recent activity, open decisions,
// key people, learned observations, memory hits, and project state.
// Every source is optional; a failing source is skipped.
func (b *Bridge) buildLiveContext(ctx context.Context, message string) string {
	now := b.now()
	var sb strings.Builder

	sb.WriteString("## Current context\n")
	fmt.Fprintf(&sb, "Local time: %s\n", now.Format("Monday, January 2 2006, 15:04"))
	if name := b.store.PreferenceString("user.name", ""); name != "" {
		fmt.Fprintf(&sb, "User: %s\n", name)
	}

	b.writeEvents(&sb, now)
	b.writeProposals(&sb)
	b.writeContacts(&sb)
	b.writeObservations(&sb)
	b.writeMemory(&sb, ctx, message)

	if b.tracker != nil {
		if projectCtx := b.tracker.Context(message); projectCtx != "" {
			sb.WriteString("\n### Project\n")
			sb.WriteString(projectCtx)
			sb.WriteString("\n")
		}
	}

	return strings.TrimSpace(sb.String())
}

func (b *Bridge) writeEvents(sb *strings.Builder, now time.Time) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	today, err := b.store.QueryEvents(store.EventFilter{
		Since: dayStart, Until: dayStart.AddDate(0, 0, 1), Limit: 15,
	})
	if err == nil && len(today) > 0 {
		sb.WriteString("\n### Today's events\n")
		for _, e := range today {
			fmt.Fprintf(sb, "- [#%d] %s %s (%s)%s\n",
				e.ID, e.TS.Local().Format("15:04"), e.Title, e.Source, metadataExcerpt(e.Metadata))
		}
	}

	week, err := b.store.QueryEvents(store.EventFilter{
		Since: dayStart.AddDate(0, 0, -7), Until: dayStart, Limit: 10,
	})
	if err == nil && len(week) > 0 {
		sb.WriteString("\n### Earlier this week\n")
		for _, e := range week {
			fmt.Fprintf(sb, "- [#%d] %s %s (%s)\n",
				e.ID, e.TS.Local().Format("Mon 15:04"), e.Title, e.Source)
		}
	}
}

func (b *Bridge) writeProposals(sb *strings.Builder) {
	pending, err := b.store.ListPendingProposals()
	if err != nil || len(pending) == 0 {
		return
	}
	sb.WriteString("\n### Pending proposals (awaiting the user's decision)\n")
	for _, p := range pending {
		fmt.Fprintf(sb, "- [#%d] %s: %s\n", p.ID, p.Type, p.Title)
	}
}

func (b *Bridge) writeContacts(sb *strings.Builder) {
	contacts, err := b.store.ListContacts(5)
	if err != nil || len(contacts) == 0 {
		return
	}
	sb.WriteString("\n### Key contacts\n")
	for _, c := range contacts {
		name := c.Name
		if name == "" {
			name = c.Email
		}
		vip := ""
		if c.IsVIP() {
			vip = ", VIP"
		}
		fmt.Fprintf(sb, "- %s <%s> (%s, %d interactions%s)\n",
			name, c.Email, c.Relationship, c.InteractionCount, vip)
	}
}

func (b *Bridge) writeObservations(sb *strings.Builder) {
	obs, err := b.store.ListObservations("", 0.5, 7)
	if err != nil || len(obs) == 0 {
		return
	}
	sb.WriteString("\n### Recent behavioral observations\n")
	for i, o := range obs {
		if i >= 5 {
			break
		}
		fmt.Fprintf(sb, "- %s (seen %dx)\n", o.Description, o.Frequency)
	}
}

func (b *Bridge) writeMemory(sb *strings.Builder, ctx context.Context, message string) {
	if b.memory == nil {
		return
	}
	docs, err := b.memory.Search(ctx, message, memory.SearchOptions{MaxResults: 3})
	if err != nil || len(docs) == 0 {
		return
	}
	var lines []string
	for _, d := range docs {
		text := agent.StripReasoning(d.Text)
		if text == "" || agent.IsReasoning(text) {
			continue
		}
		if len(text) > 300 {
			text = text[:300] + "…"
		}
		lines = append(lines, fmt.Sprintf("- [%s, %s] %s",
			d.Source, d.Timestamp.Format("2006-01-02"), text))
	}
	if len(lines) == 0 {
		return
	}
	sb.WriteString("\n### Relevant memories\n")
	sb.WriteString(strings.Join(lines, "\n"))
	sb.WriteString("\n")
}

func metadataExcerpt(meta map[string]any) string {
	if len(meta) == 0 {
		return ""
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return ""
	}
	s := string(raw)
	if len(s) > metadataExcerptLimit {
		s = s[:metadataExcerptLimit] + "…"
	}
	return " " + s
}
