package email

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/omnibrain/omnibrain/internal/events"
	"github.com/omnibrain/omnibrain/internal/store"
)

type fakeFetcher struct {
	messages []Message
	err      error
	gotSince uint32
}

func (f *fakeFetcher) FetchAbove(_ context.Context, sinceUID uint32) ([]Message, error) {
	f.gotSince = sinceUID
	if f.err != nil {
		return nil, f.err
	}
	var out []Message
	for _, m := range f.messages {
		if m.UID > sinceUID {
			out = append(out, m)
		}
	}
	return out, nil
}

func newTestCollector(t *testing.T, f Fetcher) (*Collector, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := store.New(filepath.Join(t.TempDir(), "email_test.db"), logger)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewCollector(f, s, nil, nil, logger), s
}

func TestCollectStoresAndAdvancesHighwater(t *testing.T) {
	f := &fakeFetcher{messages: []Message{
		{UID: 11, From: "Anna Bianchi <anna@example.com>", FromAdr: "anna@example.com",
			Subject: "Q2 numbers", Body: "Draft attached.", Date: time.Now().UTC()},
		{UID: 12, From: "noreply@service.example", FromAdr: "noreply@service.example",
			Subject: "Receipt", Body: "Thanks for your order.", Date: time.Now().UTC()},
	}}
	c, s := newTestCollector(t, f)

	n, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if n != 2 {
		t.Errorf("collected = %d, want 2", n)
	}
	if got := s.PreferenceFloat(highwaterKey, 0); got != 12 {
		t.Errorf("highwater = %v, want 12", got)
	}

	evs, err := s.QueryEvents(store.EventFilter{Source: "gmail"})
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 2 {
		t.Fatalf("events = %d, want 2", len(evs))
	}

	contact, err := s.GetContact("anna@example.com")
	if err != nil || contact == nil {
		t.Fatalf("GetContact = (%+v, %v)", contact, err)
	}
	if contact.Name != "Anna Bianchi" {
		t.Errorf("contact name = %q", contact.Name)
	}
}

func TestCollectSkipsAlreadySeen(t *testing.T) {
	f := &fakeFetcher{messages: []Message{
		{UID: 5, FromAdr: "a@example.com", Subject: "old", Date: time.Now().UTC()},
	}}
	c, s := newTestCollector(t, f)
	s.SetPreference(highwaterKey, float64(10), 1.0, "email")

	n, err := c.Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("collected = %d, want 0", n)
	}
	if f.gotSince != 10 {
		t.Errorf("fetch since = %d, want 10", f.gotSince)
	}
}

func TestCollectPublishesNewEmail(t *testing.T) {
	bus := events.New()
	ch := bus.Subscribe(events.TopicNewEmail, 4)

	f := &fakeFetcher{messages: []Message{
		{UID: 1, From: "Marco <marco@example.com>", FromAdr: "marco@example.com",
			Subject: "Lunch?", Date: time.Now().UTC()},
	}}
	c, _ := newTestCollector(t, f)
	c.bus = bus

	if _, err := c.Collect(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-ch:
		if ev.Data["subject"] != "Lunch?" {
			t.Errorf("event data = %+v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("new_email event not published")
	}
}

func TestCollectFetchError(t *testing.T) {
	c, _ := newTestCollector(t, &fakeFetcher{err: errors.New("connection reset")})
	if _, err := c.Collect(context.Background()); err == nil {
		t.Error("fetch failure not surfaced")
	}
}

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"paragraphs and styles stripped",
			`<html><head><style>p{color:red}</style></head><body><p>Hello Anna,</p><p>See you at 15:00.</p><script>x()</script></body></html>`,
			"Hello Anna,\nSee you at 15:00.",
		},
		{
			"list items on separate lines",
			`<ul><li>first</li><li>second</li></ul>`,
			"first\nsecond",
		},
		{"empty input", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := htmlToText(tt.in); got != tt.want {
				t.Errorf("htmlToText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSenderName(t *testing.T) {
	if got := senderName("Anna Bianchi <anna@example.com>"); got != "Anna Bianchi" {
		t.Errorf("senderName = %q", got)
	}
	if got := senderName("noreply@service.example"); got != "" {
		t.Errorf("senderName = %q, want empty", got)
	}
}
