package knowledge

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/omnibrain/omnibrain/internal/memory"
	"github.com/omnibrain/omnibrain/internal/store"
)

func newTestGraph(t *testing.T) (*Graph, *store.Store, *memory.Memory) {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	s, err := store.New(filepath.Join(dir, "knowledge_test.db"), logger)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	kw, err := memory.NewKeywordStore(filepath.Join(dir, "memory.db"), logger)
	if err != nil {
		t.Fatalf("NewKeywordStore: %v", err)
	}
	mem := memory.New(kw, nil, logger)
	t.Cleanup(func() { mem.Close() })

	return New(s, mem, logger), s, mem
}

func TestQueryDispatch(t *testing.T) {
	g, _, _ := newTestGraph(t)
	ctx := context.Background()

	tests := []struct {
		q        string
		wantType string
		person   string
		topic    string
	}{
		{"what did Anna say about the budget?", "who_said_what", "Anna", "the budget"},
		{"what has Marco mentioned about deadlines", "who_said_what", "Marco", "deadlines"},
		{"Anna's thoughts on the redesign", "who_said_what", "Anna", "the redesign"},
		{"cosa ha detto Marco del progetto", "who_said_what", "Marco", "progetto"},
		{"qué dijo Carlos sobre la reunión", "who_said_what", "Carlos", "la reunión"},
		{"timeline of project atlas", "timeline", "", "project atlas"},
		{"history of the migration", "timeline", "", "the migration"},
		{"open invoices from march", "correlate", "", ""},
	}
	for _, tt := range tests {
		ans, err := g.Query(ctx, tt.q)
		if err != nil {
			t.Fatalf("Query(%q): %v", tt.q, err)
		}
		if ans.QueryType != tt.wantType {
			t.Errorf("Query(%q) type = %q, want %q", tt.q, ans.QueryType, tt.wantType)
		}
		if tt.person != "" && ans.Person != tt.person {
			t.Errorf("Query(%q) person = %q, want %q", tt.q, ans.Person, tt.person)
		}
		if tt.topic != "" && ans.Topic != tt.topic {
			t.Errorf("Query(%q) topic = %q, want %q", tt.q, ans.Topic, tt.topic)
		}
	}
}

func TestWhoSaidWhatFiltersByPerson(t *testing.T) {
	g, s, mem := newTestGraph(t)
	ctx := context.Background()

	mem.Store(ctx, memory.Input{
		Text:       "Email from anna@example.com: budget\n\nAnna thinks the budget is too tight this quarter.",
		Source:     "email:anna@example.com",
		SourceType: memory.SourceEmail,
	})
	mem.Store(ctx, memory.Input{
		Text:       "Email from bob@example.com: budget\n\nBob approved the budget without comment.",
		Source:     "email:bob@example.com",
		SourceType: memory.SourceEmail,
	})
	s.InsertEvent(&store.Event{
		Source: "gmail", EventType: "email",
		Title: "Budget concerns", Body: "Anna raised concerns about the budget.",
		TS: time.Now().UTC(),
	})

	results, err := g.WhoSaidWhat(ctx, "anna", "budget")
	if err != nil {
		t.Fatalf("WhoSaidWhat: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	for _, r := range results {
		if r.Kind == "memory" && !containsFold(r.Text+r.Source, "anna") {
			t.Errorf("result does not mention anna: %+v", r)
		}
	}
}

func TestTopicTimelineChronological(t *testing.T) {
	g, s, _ := newTestGraph(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-48 * time.Hour)

	for i, title := range []string{"atlas kickoff", "atlas design review", "atlas launch"} {
		s.InsertEvent(&store.Event{
			Source: "calendar", EventType: "meeting",
			Title: title, TS: base.Add(time.Duration(i) * 12 * time.Hour),
		})
	}

	results, err := g.TopicTimeline(ctx, "atlas", 30, 10)
	if err != nil {
		t.Fatalf("TopicTimeline: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Date.Before(results[i-1].Date) {
			t.Errorf("timeline out of order at %d: %v before %v", i, results[i].Date, results[i-1].Date)
		}
	}
}

func TestCorrelateDeduplicates(t *testing.T) {
	g, s, mem := newTestGraph(t)
	ctx := context.Background()

	s.InsertEvent(&store.Event{
		Source: "gmail", EventType: "email",
		Title: "Invoice 42 overdue", Body: "Please pay invoice 42.", TS: time.Now().UTC(),
	})
	mem.Store(ctx, memory.Input{
		Text: "Email about invoice 42 being overdue", Source: "email:billing", SourceType: memory.SourceEmail,
	})

	results, err := g.Correlate(ctx, "invoice 42")
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	seen := map[string]bool{}
	for _, r := range results {
		if seen[r.SourceID] {
			t.Errorf("duplicate source id %q", r.SourceID)
		}
		seen[r.SourceID] = true
	}
	if len(results) < 2 {
		t.Errorf("results = %d, want memory and event hits", len(results))
	}
}

func TestContactGraphStrength(t *testing.T) {
	g, s, _ := newTestGraph(t)

	// Five shared calendar events between anna and bob.
	for i := range 5 {
		s.InsertEvent(&store.Event{
			Source: "calendar", EventType: "meeting",
			Title: "sync " + string(rune('a'+i)),
			Metadata: map[string]any{
				"attendees": []any{"anna@example.com", "bob@example.com"},
			},
			TS: time.Now().UTC().Add(-time.Duration(i) * time.Hour),
		})
	}
	// One email thread between anna and carol.
	s.InsertEvent(&store.Event{
		Source: "gmail", EventType: "email", Title: "one-off thread",
		Metadata: map[string]any{
			"sender_email": "carol@example.com",
			"attendees":    "anna@example.com",
		},
		TS: time.Now().UTC(),
	})

	edges, err := g.ContactGraph("", 0, 30)
	if err != nil {
		t.Fatalf("ContactGraph: %v", err)
	}
	var annaBob, annaCarol *Edge
	for i := range edges {
		e := &edges[i]
		switch {
		case e.A == "anna@example.com" && e.B == "bob@example.com":
			annaBob = e
		case e.A == "anna@example.com" && e.B == "carol@example.com":
			annaCarol = e
		}
	}
	if annaBob == nil || annaBob.SharedEvents != 5 {
		t.Fatalf("anna-bob edge = %+v, want 5 shared events", annaBob)
	}
	if got, want := annaBob.Strength, 0.5; got != want {
		t.Errorf("anna-bob strength = %v, want %v", got, want)
	}
	if annaCarol == nil || annaCarol.SharedThreads != 1 {
		t.Errorf("anna-carol edge = %+v, want 1 shared thread", annaCarol)
	}

	// Filter by contact.
	filtered, err := g.ContactGraph("bob@example.com", 0, 30)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range filtered {
		if e.A != "bob@example.com" && e.B != "bob@example.com" {
			t.Errorf("edge %+v does not touch bob", e)
		}
	}
}

func TestContactSummaryFuzzyName(t *testing.T) {
	g, s, _ := newTestGraph(t)
	ctx := context.Background()

	s.UpsertContact(&store.Contact{
		Email: "anna.bianchi@example.com", Name: "Anna Bianchi",
		Relationship: "client", InteractionCount: 12, AvgResponseTimeHours: 2,
	})

	summary, err := g.ContactSummary(ctx, "anna")
	if err != nil {
		t.Fatalf("ContactSummary: %v", err)
	}
	if summary.Contact.Email != "anna.bianchi@example.com" {
		t.Errorf("resolved %q", summary.Contact.Email)
	}
	if !summary.IsVIP {
		t.Error("fast-responding frequent client should be VIP")
	}

	if _, err := g.ContactSummary(ctx, "nobody"); err == nil {
		t.Error("unknown contact should error")
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
