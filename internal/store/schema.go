package store

import (
	"fmt"
	"strings"
)

// schema is the current full schema, applied with IF NOT EXISTS so a
// fresh database comes up in one pass. Older databases are brought
// forward by the targeted migrations below.
const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	source TEXT NOT NULL,
	event_type TEXT NOT NULL,
	title TEXT NOT NULL,
	body TEXT,
	metadata TEXT,
	priority INTEGER NOT NULL DEFAULT 0,
	processed INTEGER NOT NULL DEFAULT 0,
	UNIQUE(source, event_type, title, ts)
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
CREATE INDEX IF NOT EXISTS idx_events_source ON events(source);
CREATE INDEX IF NOT EXISTS idx_events_processed ON events(processed);

CREATE TABLE IF NOT EXISTS contacts (
	email TEXT PRIMARY KEY,
	name TEXT,
	relationship TEXT NOT NULL DEFAULT 'unknown',
	organization TEXT,
	last_interaction TEXT,
	interaction_count INTEGER NOT NULL DEFAULT 0,
	avg_response_time_hours REAL NOT NULL DEFAULT 24.0,
	notes TEXT
);

CREATE TABLE IF NOT EXISTS proposals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at TEXT NOT NULL,
	type TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT,
	action_data TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	priority INTEGER NOT NULL DEFAULT 0,
	expires_at TEXT,
	result TEXT,
	snoozed_until TEXT
);
CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status);

CREATE TABLE IF NOT EXISTS observations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	pattern_type TEXT NOT NULL,
	description TEXT NOT NULL,
	frequency INTEGER NOT NULL DEFAULT 1,
	last_seen TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0.5,
	promoted_to_automation INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_observations_type ON observations(pattern_type);
CREATE INDEX IF NOT EXISTS idx_observations_ts ON observations(ts);

CREATE TABLE IF NOT EXISTS preferences (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 1.0,
	learned_from TEXT,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS briefings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	date TEXT NOT NULL,
	type TEXT NOT NULL,
	content TEXT NOT NULL,
	events_processed INTEGER NOT NULL DEFAULT 0,
	actions_proposed INTEGER NOT NULL DEFAULT 0,
	generated_at TEXT NOT NULL,
	UNIQUE(type, date)
);

CREATE TABLE IF NOT EXISTS agent_sessions (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	task_type TEXT,
	state_json TEXT,
	profile_json TEXT,
	plan_json TEXT,
	graph_json TEXT,
	status TEXT NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS installed_skills (
	name TEXT PRIMARY KEY,
	version TEXT,
	description TEXT,
	author TEXT,
	category TEXT,
	permissions TEXT,
	enabled INTEGER NOT NULL DEFAULT 1,
	installed_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	settings TEXT,
	data TEXT
);

CREATE TABLE IF NOT EXISTS chat_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	ts TEXT NOT NULL,
	metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_chat_session ON chat_messages(session_id, ts);

CREATE TABLE IF NOT EXISTS llm_calls (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt_hash TEXT,
	prompt_preview TEXT,
	prompt_size INTEGER NOT NULL DEFAULT 0,
	response_size INTEGER NOT NULL DEFAULT 0,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cache_read_tokens INTEGER NOT NULL DEFAULT 0,
	cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
	cost_estimate REAL NOT NULL DEFAULT 0,
	source TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	success INTEGER NOT NULL DEFAULT 1,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_llm_calls_ts ON llm_calls(ts);
`

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Targeted migrations for databases created before a column or
	// constraint existed. Each is idempotent.
	if err := s.migrateProposalsSnooze(); err != nil {
		return fmt.Errorf("migrate proposals: %w", err)
	}
	if err := s.migrateEventsUnique(); err != nil {
		return fmt.Errorf("migrate events: %w", err)
	}

	s.tryEnableFTS()
	return nil
}

// tryEnableFTS creates the external-content FTS5 index over events and
// the triggers that keep it in sync, then resyncs it from the content
// table. Upserts on events use ON CONFLICT DO UPDATE rather than
// INSERT OR REPLACE specifically so the update trigger fires instead
// of a silent delete+insert. Falls back to LIKE-based search when FTS5
// is not available.
func (s *Store) tryEnableFTS() {
	_, err := s.db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS events_fts USING fts5(
			title,
			body,
			metadata,
			content=events,
			content_rowid=id
		)
	`)
	if err != nil {
		s.logger.Warn("FTS5 not available for events, using LIKE fallback", "error", err)
		return
	}

	_, err = s.db.Exec(`
		CREATE TRIGGER IF NOT EXISTS events_ai AFTER INSERT ON events BEGIN
			INSERT INTO events_fts(rowid, title, body, metadata)
			VALUES (new.id, new.title, new.body, new.metadata);
		END;

		CREATE TRIGGER IF NOT EXISTS events_ad AFTER DELETE ON events BEGIN
			INSERT INTO events_fts(events_fts, rowid, title, body, metadata)
			VALUES ('delete', old.id, old.title, old.body, old.metadata);
		END;

		CREATE TRIGGER IF NOT EXISTS events_au AFTER UPDATE ON events BEGIN
			INSERT INTO events_fts(events_fts, rowid, title, body, metadata)
			VALUES ('delete', old.id, old.title, old.body, old.metadata);
			INSERT INTO events_fts(rowid, title, body, metadata)
			VALUES (new.id, new.title, new.body, new.metadata);
		END;
	`)
	if err != nil {
		s.logger.Warn("failed to create events FTS triggers", "error", err)
		return
	}
	s.ftsEnabled = true

	_, err = s.db.Exec(`INSERT INTO events_fts(events_fts) VALUES('rebuild')`)
	if err != nil {
		s.logger.Warn("failed to rebuild events FTS index", "error", err)
		s.ftsEnabled = false
	}
}

// migrateProposalsSnooze adds the snoozed_until column to proposal
// tables created before snoozing existed.
func (s *Store) migrateProposalsSnooze() error {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('proposals') WHERE name = 'snoozed_until'`,
	).Scan(&n)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	s.logger.Info("migrating proposals table to add snoozed_until")
	_, err = s.db.Exec(`ALTER TABLE proposals ADD COLUMN snoozed_until TEXT`)
	return err
}

// migrateEventsUnique rebuilds the events table when the
// (source, event_type, title, ts) uniqueness constraint is missing.
// The rebuild follows RENAME -> CREATE -> INSERT...SELECT -> DROP;
// tryEnableFTS recreates the index and triggers afterwards and resyncs
// from the rebuilt table.
func (s *Store) migrateEventsUnique() error {
	var ddl string
	err := s.db.QueryRow(
		`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = 'events'`,
	).Scan(&ddl)
	if err != nil {
		return err
	}
	if containsUniqueConstraint(ddl) {
		return nil
	}

	s.logger.Info("rebuilding events table to add uniqueness constraint")
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`DROP TRIGGER IF EXISTS events_ai`,
		`DROP TRIGGER IF EXISTS events_ad`,
		`DROP TRIGGER IF EXISTS events_au`,
		`ALTER TABLE events RENAME TO events_old`,
		`CREATE TABLE events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			source TEXT NOT NULL,
			event_type TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT,
			metadata TEXT,
			priority INTEGER NOT NULL DEFAULT 0,
			processed INTEGER NOT NULL DEFAULT 0,
			UNIQUE(source, event_type, title, ts)
		)`,
		`INSERT OR IGNORE INTO events (id, ts, source, event_type, title, body, metadata, priority, processed)
			SELECT id, ts, source, event_type, title, body, metadata, priority, processed FROM events_old`,
		`DROP TABLE events_old`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("rebuild step failed: %w", err)
		}
	}
	return tx.Commit()
}

func containsUniqueConstraint(ddl string) bool {
	norm := strings.ToUpper(strings.Join(strings.Fields(ddl), " "))
	return strings.Contains(norm, "UNIQUE(SOURCE, EVENT_TYPE, TITLE, TS)") ||
		strings.Contains(norm, "UNIQUE (SOURCE, EVENT_TYPE, TITLE, TS)")
}
