// Package store provides durable state for the daemon: events,
// contacts, proposals, observations, preferences, briefings, agent
// sessions, installed skills, chat messages, and the LLM call log,
// all in a single SQLite file with WAL and FTS5.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store manages all table-backed entities. Each public operation runs
// in its own implicit or explicit transaction; failed operations roll
// back and leave prior state intact.
type Store struct {
	db         *sql.DB
	ftsEnabled bool
	logger     *slog.Logger
}

// New opens (or creates) the database at dbPath and runs migrations.
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for components that share the
// store's database file (transparency logger aggregates, tests).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Stats returns row counts for the daemon heartbeat and /status.
func (s *Store) Stats() map[string]any {
	stats := make(map[string]any)
	for _, table := range []string{
		"events", "contacts", "proposals", "observations",
		"preferences", "briefings", "agent_sessions",
		"installed_skills", "chat_messages", "llm_calls",
	} {
		var n int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			continue
		}
		stats[table] = n
	}

	var pending int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM proposals WHERE status = 'pending'`).Scan(&pending)
	stats["pending_proposals"] = pending

	var unprocessed int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE processed = 0`).Scan(&unprocessed)
	stats["unprocessed_events"] = unprocessed

	return stats
}

// sanitizeFTS5Query makes arbitrary user input safe for the FTS5
// parser: strip everything outside [alphanumeric, space, ., -, _, @],
// split into words, quote each, and OR them together. An empty result
// means the caller should return no rows rather than querying.
// BM25 ranking ensures rows matching more terms score higher.
func sanitizeFTS5Query(query string) string {
	var b strings.Builder
	for _, r := range query {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '.' || r == '-' || r == '_' || r == '@':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	words := strings.Fields(b.String())
	if len(words) == 0 {
		return ""
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		w = strings.ReplaceAll(w, `"`, `""`)
		quoted[i] = `"` + w + `"`
	}
	return strings.Join(quoted, " OR ")
}

// normalizeTS makes ISO-8601 strings comparable regardless of whether
// the date/time separator is "T" or a space.
func normalizeTS(ts string) string {
	return strings.Replace(strings.TrimSpace(ts), " ", "T", 1)
}

// ParseTime accepts the timestamp shapes that reach the store from
// collectors, skills, and API clients: RFC3339 (with or without
// fractional seconds), "2006-01-02T15:04:05", the space-separated
// variant of either, and a bare date.
func ParseTime(s string) (time.Time, error) {
	norm := normalizeTS(s)
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, norm); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// --- SQL helpers ---

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// marshalMeta serializes an optional JSON-object column. Empty maps
// store as NULL.
func marshalMeta(m map[string]any) sql.NullString {
	if len(m) == 0 {
		return sql.NullString{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func unmarshalMeta(ns sql.NullString) map[string]any {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil
	}
	return m
}

func parseStoredTime(s string) time.Time {
	t, err := ParseTime(s)
	if err != nil {
		return time.Time{}
	}
	return t
}
