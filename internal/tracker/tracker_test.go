package tracker

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/omnibrain/omnibrain/internal/store"
)

func newTestTracker(t *testing.T) (*Tracker, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := store.New(filepath.Join(t.TempDir(), "tracker_test.db"), logger)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, logger), s
}

func TestTouchAndMatch(t *testing.T) {
	tr, _ := newTestTracker(t)

	tr.Touch("Atlas", "migration", "atlas-api")
	tr.Touch("Atlas")

	projects := tr.Projects()
	if len(projects) != 1 || projects[0].TouchCount != 2 {
		t.Fatalf("projects = %+v", projects)
	}

	if p := tr.Match("how is atlas going?"); p == nil || p.Name != "Atlas" {
		t.Errorf("Match by name = %+v", p)
	}
	if p := tr.Match("any news on the migration?"); p == nil {
		t.Error("Match by keyword failed")
	}
	if p := tr.Match("unrelated question"); p != nil {
		t.Errorf("Match on unrelated text = %+v", p)
	}
}

func TestActiveProjectContext(t *testing.T) {
	tr, _ := newTestTracker(t)
	tr.Touch("Atlas")

	got := tr.Context("status of atlas?")
	if !strings.Contains(got, "Active project: Atlas") {
		t.Errorf("context = %q", got)
	}
}

func TestResurrectionSummaryAfterDormancy(t *testing.T) {
	tr, s := newTestTracker(t)

	past := time.Now().UTC().Add(-30 * 24 * time.Hour)
	tr.now = func() time.Time { return past }
	tr.Touch("Atlas")

	s.InsertEvent(&store.Event{
		Source: "gmail", EventType: "email",
		Title: "Atlas design review notes", TS: past,
	})

	tr.now = time.Now
	got := tr.Context("let's get back to atlas")
	if !strings.Contains(got, "returning to project \"Atlas\"") {
		t.Errorf("context = %q, want resurrection summary", got)
	}
	if !strings.Contains(got, "Atlas design review notes") {
		t.Errorf("context = %q, want recent activity listed", got)
	}
}

func TestContextEmptyWithoutMention(t *testing.T) {
	tr, _ := newTestTracker(t)
	tr.Touch("Atlas")
	if got := tr.Context("what's for lunch?"); got != "" {
		t.Errorf("context = %q, want empty", got)
	}
}
