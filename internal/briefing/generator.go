// Package briefing turns stored activity into morning, evening, and
// weekly Markdown recaps. Generation is deterministic from the store;
// when a router is available the draft gets one LLM polish pass, but a
// nil router still produces a complete briefing.
package briefing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/omnibrain/omnibrain/internal/llm"
	"github.com/omnibrain/omnibrain/internal/store"
)

const polishPrompt = `You rewrite a personal daily briefing draft. Keep every fact and every list item; improve flow and warmth. Answer with Markdown only, no preamble.`

// Generator builds briefings from the store.
type Generator struct {
	store  *store.Store
	router *llm.Router // may be nil
	logger *slog.Logger
	now    func() time.Time
}

// NewGenerator creates a generator. router may be nil; briefings are
// then stored unpolished.
func NewGenerator(s *store.Store, router *llm.Router, logger *slog.Logger) *Generator {
	return &Generator{store: s, router: router, logger: logger, now: time.Now}
}

// Generate builds, optionally polishes, and persists a briefing of the
// given type for today. Regeneration replaces the stored row.
func (g *Generator) Generate(ctx context.Context, briefingType string) (*store.Briefing, error) {
	var content string
	var events, actions int
	var err error

	switch briefingType {
	case store.BriefingMorning:
		content, events, actions, err = g.morning()
	case store.BriefingEvening:
		content, events, actions, err = g.evening()
	case store.BriefingWeekly:
		content, events, actions, err = g.weekly()
	default:
		return nil, fmt.Errorf("unknown briefing type %q", briefingType)
	}
	if err != nil {
		return nil, fmt.Errorf("build %s briefing: %w", briefingType, err)
	}

	content = g.polish(ctx, content)

	b := &store.Briefing{
		Date:            g.now().Format("2006-01-02"),
		Type:            briefingType,
		Content:         content,
		EventsProcessed: events,
		ActionsProposed: actions,
	}
	if _, err := g.store.InsertBriefing(b); err != nil {
		return nil, fmt.Errorf("store briefing: %w", err)
	}
	return b, nil
}

// polish runs one LLM rewrite pass; any failure returns the draft
// unchanged.
func (g *Generator) polish(ctx context.Context, draft string) string {
	if g.router == nil {
		return draft
	}
	resp, err := g.router.Chat(ctx, llm.Request{
		System:   polishPrompt,
		Messages: []llm.Message{{Role: "user", Content: draft}},
		Source:   "briefing",
	})
	if err != nil {
		g.logger.Warn("briefing polish failed, using draft", "error", err)
		return draft
	}
	if strings.TrimSpace(resp.Content) == "" {
		return draft
	}
	return resp.Content
}

func (g *Generator) morning() (string, int, int, error) {
	now := g.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	today, err := g.store.QueryEvents(store.EventFilter{
		Source: "calendar",
		Since:  dayStart,
		Until:  dayStart.AddDate(0, 0, 1),
		Limit:  20,
	})
	if err != nil {
		return "", 0, 0, err
	}
	overnight, err := g.store.QueryEvents(store.EventFilter{
		Source: "gmail",
		Since:  now.Add(-16 * time.Hour),
		Limit:  20,
	})
	if err != nil {
		return "", 0, 0, err
	}
	pending, err := g.store.ListPendingProposals()
	if err != nil {
		return "", 0, 0, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Morning Briefing — %s\n\n", now.Format("Monday, January 2"))

	b.WriteString("## Today's Schedule\n")
	if len(today) == 0 {
		b.WriteString("No calendar events today.\n")
	}
	for _, e := range sortByTime(today) {
		fmt.Fprintf(&b, "- %s — %s\n", e.TS.Local().Format("15:04"), e.Title)
	}

	b.WriteString("\n## Overnight Email\n")
	if len(overnight) == 0 {
		b.WriteString("Nothing new overnight.\n")
	}
	for _, e := range overnight {
		fmt.Fprintf(&b, "- %s\n", e.Title)
	}

	if len(pending) > 0 {
		b.WriteString("\n## Waiting on You\n")
		for _, p := range pending {
			fmt.Fprintf(&b, "- [#%d] %s\n", p.ID, p.Title)
		}
	}

	return b.String(), len(today) + len(overnight), len(pending), nil
}

func (g *Generator) evening() (string, int, int, error) {
	now := g.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	processed, err := g.store.QueryEvents(store.EventFilter{Since: dayStart, Limit: 100})
	if err != nil {
		return "", 0, 0, err
	}
	tomorrow, err := g.store.QueryEvents(store.EventFilter{
		Source: "calendar",
		Since:  dayStart.AddDate(0, 0, 1),
		Until:  dayStart.AddDate(0, 0, 2),
		Limit:  10,
	})
	if err != nil {
		return "", 0, 0, err
	}
	pending, err := g.store.ListPendingProposals()
	if err != nil {
		return "", 0, 0, err
	}

	bySource := map[string]int{}
	for _, e := range processed {
		bySource[e.Source]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Evening Recap — %s\n\n", now.Format("Monday, January 2"))
	fmt.Fprintf(&b, "Processed %d events today", len(processed))
	if len(bySource) > 0 {
		parts := make([]string, 0, len(bySource))
		for src, n := range bySource {
			parts = append(parts, fmt.Sprintf("%s: %d", src, n))
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	}
	b.WriteString(".\n")

	b.WriteString("\n## Tomorrow\n")
	if len(tomorrow) == 0 {
		b.WriteString("Clear calendar so far.\n")
	}
	for _, e := range sortByTime(tomorrow) {
		fmt.Fprintf(&b, "- %s — %s\n", e.TS.Local().Format("15:04"), e.Title)
	}

	if len(pending) > 0 {
		fmt.Fprintf(&b, "\n%d proposals still waiting for a decision.\n", len(pending))
	}

	return b.String(), len(processed), len(pending), nil
}

func (g *Generator) weekly() (string, int, int, error) {
	now := g.now()
	weekAgo := now.AddDate(0, 0, -7)

	events, err := g.store.QueryEvents(store.EventFilter{Since: weekAgo, Limit: 1000})
	if err != nil {
		return "", 0, 0, err
	}
	proposals, err := g.store.ListProposals(100)
	if err != nil {
		return "", 0, 0, err
	}
	vips, err := g.store.ListVIPs()
	if err != nil {
		return "", 0, 0, err
	}

	bySource := map[string]int{}
	for _, e := range events {
		bySource[e.Source]++
	}
	proposalsByStatus := map[string]int{}
	weekProposals := 0
	for _, p := range proposals {
		if p.CreatedAt.Before(weekAgo) {
			continue
		}
		weekProposals++
		proposalsByStatus[p.Status]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Weekly Review — week of %s\n\n", weekAgo.Format("January 2"))
	fmt.Fprintf(&b, "## Activity\n%d events captured this week.\n", len(events))
	for src, n := range bySource {
		fmt.Fprintf(&b, "- %s: %d\n", src, n)
	}

	fmt.Fprintf(&b, "\n## Proposals\n%d raised this week.\n", weekProposals)
	for status, n := range proposalsByStatus {
		fmt.Fprintf(&b, "- %s: %d\n", status, n)
	}

	if len(vips) > 0 {
		b.WriteString("\n## Key People\n")
		for i, c := range vips {
			if i >= 5 {
				break
			}
			name := c.Name
			if name == "" {
				name = c.Email
			}
			fmt.Fprintf(&b, "- %s (%d interactions)\n", name, c.InteractionCount)
		}
	}

	return b.String(), len(events), weekProposals, nil
}

func sortByTime(events []*store.Event) []*store.Event {
	out := make([]*store.Event, len(events))
	copy(out, events)
	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out
}
