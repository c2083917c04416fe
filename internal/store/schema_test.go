package store

import (
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// seedLegacyDB writes a database in the pre-migration shape: events
// without the uniqueness constraint, proposals without snoozed_until.
// It uses the pure-Go driver so the seed is independent of the store's
// own open path.
func seedLegacyDB(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "legacy.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open seed db: %v", err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			source TEXT NOT NULL,
			event_type TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT,
			metadata TEXT,
			priority INTEGER NOT NULL DEFAULT 0,
			processed INTEGER NOT NULL DEFAULT 0
		)`,
		`INSERT INTO events (ts, source, event_type, title) VALUES
			('2026-01-10T08:00:00Z', 'gmail', 'email', 'Standup moved'),
			('2026-01-10T08:00:00Z', 'gmail', 'email', 'Standup moved'),
			('2026-01-11T09:00:00Z', 'caldav', 'meeting', 'Sprint review')`,
		`CREATE TABLE proposals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at TEXT NOT NULL,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			action_data TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			priority INTEGER NOT NULL DEFAULT 0,
			expires_at TEXT,
			result TEXT
		)`,
		`INSERT INTO proposals (created_at, type, title) VALUES
			('2026-01-10T08:05:00Z', 'reply', 'Draft a reply to Anna')`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed legacy db: %v", err)
		}
	}
	return dbPath
}

func TestMigrateLegacyDatabase(t *testing.T) {
	dbPath := seedLegacyDB(t)

	s, err := New(dbPath, quietLogger())
	if err != nil {
		t.Fatalf("New on legacy db: %v", err)
	}
	defer s.Close()

	// The events rebuild deduplicates under the new constraint.
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if n != 2 {
		t.Errorf("events after rebuild = %d, want 2", n)
	}

	var ddl string
	if err := s.db.QueryRow(
		`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = 'events'`,
	).Scan(&ddl); err != nil {
		t.Fatalf("read events ddl: %v", err)
	}
	if !containsUniqueConstraint(ddl) {
		t.Errorf("rebuilt events table lacks uniqueness constraint: %s", ddl)
	}

	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('proposals') WHERE name = 'snoozed_until'`,
	).Scan(&n); err != nil {
		t.Fatalf("inspect proposals: %v", err)
	}
	if n != 1 {
		t.Error("proposals table missing snoozed_until after migration")
	}

	// Seeded rows survive the rebuild.
	props, err := s.ListPendingProposals()
	if err != nil {
		t.Fatalf("ListPendingProposals: %v", err)
	}
	if len(props) != 1 || props[0].Title != "Draft a reply to Anna" {
		t.Errorf("proposals after migration = %+v", props)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	dbPath := seedLegacyDB(t)

	for i := 0; i < 2; i++ {
		s, err := New(dbPath, quietLogger())
		if err != nil {
			t.Fatalf("New (pass %d): %v", i+1, err)
		}
		s.Close()
	}

	s, err := New(dbPath, quietLogger())
	if err != nil {
		t.Fatalf("New (final): %v", err)
	}
	defer s.Close()

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if n != 2 {
		t.Errorf("events after repeated migrations = %d, want 2", n)
	}
}

// TestSanitizedQueriesNeverBreakFTS5 runs sanitizer output against a
// real FTS5 parser. Whatever the input, the sanitized query must either
// be empty or parse cleanly.
func TestSanitizedQueriesNeverBreakFTS5(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE VIRTUAL TABLE docs USING fts5(title, body)`); err != nil {
		t.Skipf("FTS5 not available: %v", err)
	}
	if _, err := db.Exec(
		`INSERT INTO docs (title, body) VALUES ('deploy plan', 'roll out api-gateway on friday')`,
	); err != nil {
		t.Fatalf("insert: %v", err)
	}

	inputs := []string{
		`deploy AND "api-gateway" OR (x)`,
		`"unbalanced`,
		`NEAR(a b, 5)`,
		`col:value`,
		`* ^ - NOT`,
		`user@example.com's "notes"`,
		`(((((`,
	}
	for _, in := range inputs {
		q := sanitizeFTS5Query(in)
		if q == "" {
			continue
		}
		rows, err := db.Query(`SELECT rowid FROM docs WHERE docs MATCH ?`, q)
		if err != nil {
			t.Errorf("sanitized query %q from input %q failed: %v", q, in, err)
			continue
		}
		rows.Close()
	}
}
