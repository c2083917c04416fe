// Package knowledge answers natural-language questions over the event
// store and memory: who said what, topic timelines, contact
// relationships. It is a stateless query engine; all durable state
// lives in the store and memory indices.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/omnibrain/omnibrain/internal/memory"
	"github.com/omnibrain/omnibrain/internal/store"
)

// Result is one knowledge item from any backing index.
type Result struct {
	SourceID string         `json:"source_id"`
	Kind     string         `json:"kind"` // "memory" or "event"
	Title    string         `json:"title,omitempty"`
	Text     string         `json:"text"`
	Source   string         `json:"source"`
	Date     time.Time      `json:"date"`
	Score    float64        `json:"score,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Answer is the response to a Query call.
type Answer struct {
	QueryType string   `json:"query_type"` // who_said_what, timeline, correlate
	Person    string   `json:"person,omitempty"`
	Topic     string   `json:"topic,omitempty"`
	Results   []Result `json:"results"`
}

// Edge is one contact-to-contact relationship in the graph.
type Edge struct {
	A             string  `json:"a"`
	B             string  `json:"b"`
	SharedEvents  int     `json:"shared_events"`
	SharedThreads int     `json:"shared_threads"`
	Strength      float64 `json:"strength"`
}

// ContactSummary is the full profile view of one contact.
type ContactSummary struct {
	Contact       *store.Contact `json:"contact"`
	IsVIP         bool           `json:"is_vip"`
	Relationships []Edge         `json:"relationships,omitempty"`
	RecentTopics  []string       `json:"recent_topics,omitempty"`
	EventCounts   map[string]int `json:"event_counts,omitempty"`
}

// Graph is the query engine.
type Graph struct {
	store  *store.Store
	memory *memory.Memory // may be nil
	logger *slog.Logger
}

// New creates a knowledge graph. memory may be nil; queries then run
// on events alone.
func New(s *store.Store, mem *memory.Memory, logger *slog.Logger) *Graph {
	return &Graph{store: s, memory: mem, logger: logger}
}

// Question shapes the dispatcher recognizes. The person/topic forms
// cover English plus the Italian and Spanish phrasings that show up in
// a bilingual mailbox.
var (
	whoSaidRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)what (?:did|has|does) (.+?) (?:say|said|mention(?:ed)?|think|thought) about (.+)`),
		regexp.MustCompile(`(?i)(.+?)'s (?:thoughts|opinion|take) on (.+)`),
		regexp.MustCompile(`(?i)(?:cosa|che cosa) (?:ha detto|dice|pensa) (.+?) (?:di|del|della|su|sul|sulla|riguardo a?) (.+)`),
		regexp.MustCompile(`(?i)qu[eé] (?:dijo|dice|piensa|opina) (.+?) (?:de|sobre) (.+)`),
	}
	timelineRe = regexp.MustCompile(`(?i)(?:timeline|history|evolution) of (.+)`)
)

// Query dispatches on the question shape and returns the best-matching
// answer form.
func (g *Graph) Query(ctx context.Context, q string) (*Answer, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return &Answer{QueryType: "correlate"}, nil
	}

	for _, re := range whoSaidRes {
		if m := re.FindStringSubmatch(q); m != nil {
			person := strings.TrimSpace(m[1])
			topic := strings.TrimSuffix(strings.TrimSpace(m[2]), "?")
			results, err := g.WhoSaidWhat(ctx, person, topic)
			if err != nil {
				return nil, err
			}
			return &Answer{QueryType: "who_said_what", Person: person, Topic: topic, Results: results}, nil
		}
	}

	if m := timelineRe.FindStringSubmatch(q); m != nil {
		topic := strings.TrimSuffix(strings.TrimSpace(m[1]), "?")
		results, err := g.TopicTimeline(ctx, topic, 90, 50)
		if err != nil {
			return nil, err
		}
		return &Answer{QueryType: "timeline", Topic: topic, Results: results}, nil
	}

	results, err := g.Correlate(ctx, q)
	if err != nil {
		return nil, err
	}
	return &Answer{QueryType: "correlate", Results: results}, nil
}

// WhoSaidWhat finds statements by a person about a topic: memory
// documents that mention the person, plus FTS event hits whose
// title/body/metadata carry the person's name. Newest first.
func (g *Graph) WhoSaidWhat(ctx context.Context, person, topic string) ([]Result, error) {
	var results []Result
	personLower := strings.ToLower(person)

	if g.memory != nil {
		docs, err := g.memory.Search(ctx, person+" "+topic, memory.SearchOptions{MaxResults: 20})
		if err != nil {
			g.logger.Warn("memory search failed", "error", err)
		}
		for _, d := range docs {
			if !mentionsPerson(d, personLower) {
				continue
			}
			results = append(results, memoryResult(d))
		}
	}

	events, err := g.store.SearchEvents(topic, 20)
	if err != nil {
		return nil, fmt.Errorf("event search: %w", err)
	}
	for _, e := range events {
		if !eventMentions(e, personLower) {
			continue
		}
		results = append(results, eventResult(e))
	}

	results = dedupe(results)
	sort.Slice(results, func(i, j int) bool { return results[i].Date.After(results[j].Date) })
	if len(results) > 20 {
		results = results[:20]
	}
	return results, nil
}

// TopicTimeline returns everything about a topic in chronological
// order.
func (g *Graph) TopicTimeline(ctx context.Context, topic string, days, max int) ([]Result, error) {
	if days <= 0 {
		days = 90
	}
	if max <= 0 {
		max = 50
	}

	var results []Result
	if g.memory != nil {
		docs, err := g.memory.Search(ctx, topic, memory.SearchOptions{MaxResults: max, TimeRangeDays: days})
		if err != nil {
			g.logger.Warn("memory search failed", "error", err)
		}
		for _, d := range docs {
			results = append(results, memoryResult(d))
		}
	}

	events, err := g.store.SearchEvents(topic, max)
	if err != nil {
		return nil, fmt.Errorf("event search: %w", err)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	for _, e := range events {
		if e.TS.Before(cutoff) {
			continue
		}
		results = append(results, eventResult(e))
	}

	results = dedupe(results)
	sort.Slice(results, func(i, j int) bool { return results[i].Date.Before(results[j].Date) })
	if len(results) > max {
		results = results[:max]
	}
	return results, nil
}

// Correlate is the fallback: union of memory and event search, sorted
// by relevance then recency.
func (g *Graph) Correlate(ctx context.Context, query string) ([]Result, error) {
	var results []Result
	if g.memory != nil {
		docs, err := g.memory.Search(ctx, query, memory.SearchOptions{MaxResults: 15})
		if err != nil {
			g.logger.Warn("memory search failed", "error", err)
		}
		for _, d := range docs {
			results = append(results, memoryResult(d))
		}
	}
	events, err := g.store.SearchEvents(query, 15)
	if err != nil {
		return nil, fmt.Errorf("event search: %w", err)
	}
	for _, e := range events {
		results = append(results, eventResult(e))
	}

	results = dedupe(results)
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Date.After(results[j].Date)
	})
	return results, nil
}

// ContactGraph builds pairwise co-occurrence edges from event
// participants over the last days. contact filters to edges touching
// one person; minStrength drops weak edges.
func (g *Graph) ContactGraph(contact string, minStrength float64, days int) ([]Edge, error) {
	if days <= 0 {
		days = 90
	}
	events, err := g.store.QueryEvents(store.EventFilter{
		Since: time.Now().UTC().AddDate(0, 0, -days),
		Limit: 2000,
	})
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	type counts struct{ events, threads int }
	pairs := make(map[[2]string]*counts)

	for _, e := range events {
		people := eventParticipants(e)
		if len(people) < 2 {
			continue
		}
		calendar := e.Source == "calendar"
		for i := range people {
			for j := i + 1; j < len(people); j++ {
				key := [2]string{people[i], people[j]}
				if key[0] > key[1] {
					key[0], key[1] = key[1], key[0]
				}
				c := pairs[key]
				if c == nil {
					c = &counts{}
					pairs[key] = c
				}
				if calendar {
					c.events++
				} else {
					c.threads++
				}
			}
		}
	}

	contact = strings.ToLower(strings.TrimSpace(contact))
	var edges []Edge
	for key, c := range pairs {
		strength := float64(c.events+c.threads) / 10.0
		if strength > 1.0 {
			strength = 1.0
		}
		if strength < minStrength {
			continue
		}
		if contact != "" && key[0] != contact && key[1] != contact {
			continue
		}
		edges = append(edges, Edge{
			A: key[0], B: key[1],
			SharedEvents: c.events, SharedThreads: c.threads,
			Strength: strength,
		})
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].Strength > edges[j].Strength })
	return edges, nil
}

// ContactSummary resolves a contact by email or fuzzy name and returns
// the profile with relationship edges and recent topics.
func (g *Graph) ContactSummary(ctx context.Context, identifier string) (*ContactSummary, error) {
	c, err := g.resolveContact(identifier)
	if err != nil {
		return nil, err
	}

	summary := &ContactSummary{Contact: c, IsVIP: c.IsVIP(), EventCounts: map[string]int{}}

	edges, err := g.ContactGraph(c.Email, 0, 90)
	if err != nil {
		g.logger.Warn("contact graph failed", "contact", c.Email, "error", err)
	} else {
		if len(edges) > 5 {
			edges = edges[:5]
		}
		summary.Relationships = edges
	}

	needle := c.Email
	if c.Name != "" {
		needle = c.Name
	}
	events, err := g.store.SearchEvents(needle, 30)
	if err == nil {
		for _, e := range events {
			summary.EventCounts[e.Source]++
			if len(summary.RecentTopics) < 5 {
				summary.RecentTopics = append(summary.RecentTopics, e.Title)
			}
		}
	}

	if g.memory != nil && len(summary.RecentTopics) < 5 {
		docs, err := g.memory.Search(ctx, needle, memory.SearchOptions{MaxResults: 5})
		if err == nil {
			for _, d := range docs {
				if len(summary.RecentTopics) >= 5 {
					break
				}
				summary.RecentTopics = append(summary.RecentTopics, snippet(d.Text, 120))
			}
		}
	}
	return summary, nil
}

func (g *Graph) resolveContact(identifier string) (*store.Contact, error) {
	identifier = strings.TrimSpace(identifier)
	if strings.Contains(identifier, "@") {
		return g.store.GetContact(identifier)
	}

	contacts, err := g.store.ListContacts(500)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	lower := strings.ToLower(identifier)
	var best *store.Contact
	for _, c := range contacts {
		name := strings.ToLower(c.Name)
		if name == lower {
			return c, nil
		}
		if best == nil && (strings.Contains(name, lower) || strings.Contains(strings.ToLower(c.Email), lower)) {
			best = c
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return best, nil
}

// eventParticipants pulls email addresses out of an event: attendee
// metadata plus the source field when it carries an address.
func eventParticipants(e *store.Event) []string {
	seen := make(map[string]struct{})
	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || !strings.Contains(s, "@") {
			return
		}
		seen[s] = struct{}{}
	}

	if raw, ok := e.Metadata["attendees"]; ok {
		switch v := raw.(type) {
		case []any:
			for _, a := range v {
				add(fmt.Sprint(a))
			}
		case string:
			for _, a := range strings.Split(v, ",") {
				add(a)
			}
		}
	}
	if s, ok := e.Metadata["sender_email"].(string); ok {
		add(s)
	}
	add(e.Source)

	people := make([]string, 0, len(seen))
	for p := range seen {
		people = append(people, p)
	}
	sort.Strings(people)
	return people
}

func mentionsPerson(d memory.Document, personLower string) bool {
	if strings.Contains(strings.ToLower(d.Text), personLower) {
		return true
	}
	return strings.Contains(strings.ToLower(d.Source), personLower)
}

func eventMentions(e *store.Event, personLower string) bool {
	if strings.Contains(strings.ToLower(e.Title), personLower) ||
		strings.Contains(strings.ToLower(e.Body), personLower) {
		return true
	}
	for _, v := range e.Metadata {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), personLower) {
			return true
		}
	}
	return false
}

func memoryResult(d memory.Document) Result {
	return Result{
		SourceID: "mem:" + d.ID,
		Kind:     "memory",
		Text:     snippet(d.Text, 400),
		Source:   d.Source,
		Date:     d.Timestamp,
		Score:    d.Score,
		Metadata: d.Metadata,
	}
}

func eventResult(e *store.Event) Result {
	return Result{
		SourceID: fmt.Sprintf("evt:%d", e.ID),
		Kind:     "event",
		Title:    e.Title,
		Text:     snippet(e.Body, 400),
		Source:   e.Source,
		Date:     e.TS,
		Metadata: e.Metadata,
	}
}

func dedupe(results []Result) []Result {
	seen := make(map[string]struct{}, len(results))
	out := results[:0]
	for _, r := range results {
		if _, ok := seen[r.SourceID]; ok {
			continue
		}
		seen[r.SourceID] = struct{}{}
		out = append(out, r)
	}
	return out
}

func snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
