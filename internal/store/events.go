package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQL fragments for query building.
const (
	eventColumns          = "id, ts, source, event_type, title, body, metadata, priority, processed"
	qualifiedEventColumns = "events.id, events.ts, events.source, events.event_type, events.title, events.body, events.metadata, events.priority, events.processed"
)

// Event is an immutable record of something that happened: an email
// arrived, a meeting is approaching, a skill emitted a signal. Once
// inserted, only Processed flips.
type Event struct {
	ID        int64          `json:"id"`
	TS        time.Time      `json:"ts"`
	Source    string         `json:"source"`
	EventType string         `json:"event_type"`
	Title     string         `json:"title"`
	Body      string         `json:"body,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Priority  int            `json:"priority"`
	Processed bool           `json:"processed"`
}

// EventFilter narrows QueryEvents. Zero values mean "no filter";
// Limit <= 0 defaults to 100.
type EventFilter struct {
	Source          string
	EventType       string
	Since           time.Time
	Until           time.Time
	Limit           int
	UnprocessedOnly bool
}

// InsertEvent stores an event and returns its id. Re-inserting an
// event with the same (source, event_type, title, ts) refreshes body,
// metadata, and priority in place: collectors re-poll their sources,
// and a re-seen event must keep its id and processed flag so it is not
// handled twice.
func (s *Store) InsertEvent(e *Event) (int64, error) {
	if e.Source == "" || e.EventType == "" || e.Title == "" {
		return 0, fmt.Errorf("event requires source, event_type, and title")
	}
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	ts := e.TS.UTC().Format(time.RFC3339)

	_, err := s.db.Exec(`
		INSERT INTO events (ts, source, event_type, title, body, metadata, priority, processed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, event_type, title, ts) DO UPDATE SET
			body = excluded.body,
			metadata = excluded.metadata,
			priority = excluded.priority
	`, ts, e.Source, e.EventType, e.Title, nullStr(e.Body), marshalMeta(e.Metadata), e.Priority, e.Processed)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}

	// The upsert-as-update path does not set last_insert_rowid, so
	// resolve the id through the unique key instead.
	var id int64
	err = s.db.QueryRow(
		`SELECT id FROM events WHERE source = ? AND event_type = ? AND title = ? AND ts = ?`,
		e.Source, e.EventType, e.Title, ts,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("resolve event id: %w", err)
	}
	e.ID = id
	return id, nil
}

// GetEvent retrieves a single event by id.
func (s *Store) GetEvent(id int64) (*Event, error) {
	return scanEvent(s.db.QueryRow(
		`SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
}

// QueryEvents returns events matching the filter, newest first.
func (s *Store) QueryEvents(f EventFilter) ([]*Event, error) {
	var where []string
	var args []any

	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, f.Source)
	}
	if f.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, f.EventType)
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339))
	}
	if !f.Until.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, f.Until.UTC().Format(time.RFC3339))
	}
	if f.UnprocessedOnly {
		where = append(where, "processed = 0")
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY ts DESC LIMIT ?`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// MarkEventProcessed flips the processed flag. Returns ErrNotFound if
// no event has that id.
func (s *Store) MarkEventProcessed(id int64) error {
	res, err := s.db.Exec(`UPDATE events SET processed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SearchEvents finds events matching the query using FTS5 or LIKE
// fallback. An empty or fully-stripped query returns no rows.
func (s *Store) SearchEvents(query string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 20
	}
	if s.ftsEnabled {
		return s.searchEventsFTS(query, limit)
	}
	return s.searchEventsLIKE(query, limit)
}

func (s *Store) searchEventsFTS(query string, limit int) ([]*Event, error) {
	sanitized := sanitizeFTS5Query(query)
	if sanitized == "" {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT `+qualifiedEventColumns+`
		FROM events_fts
		JOIN events ON events_fts.rowid = events.id
		WHERE events_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, sanitized, limit)
	if err != nil {
		s.logger.Warn("FTS5 search failed, falling back to LIKE", "error", err, "query", query)
		return s.searchEventsLIKE(query, limit)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *Store) searchEventsLIKE(query string, limit int) ([]*Event, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	pattern := "%" + query + "%"
	rows, err := s.db.Query(
		`SELECT `+eventColumns+` FROM events
		WHERE title LIKE ? OR body LIKE ? OR metadata LIKE ?
		ORDER BY ts DESC LIMIT ?`,
		pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// CountEventsSince reports how many events arrived at or after the
// cutoff; used by briefings and the heartbeat.
func (s *Store) CountEventsSince(since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM events WHERE ts >= ?`,
		since.UTC().Format(time.RFC3339),
	).Scan(&n)
	return n, err
}

func scanEvent(row *sql.Row) (*Event, error) {
	var e Event
	var ts string
	var body, metadata sql.NullString
	var processed int

	err := row.Scan(&e.ID, &ts, &e.Source, &e.EventType, &e.Title, &body, &metadata, &e.Priority, &processed)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	e.TS = parseStoredTime(ts)
	e.Body = body.String
	e.Metadata = unmarshalMeta(metadata)
	e.Processed = processed != 0
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		var e Event
		var ts string
		var body, metadata sql.NullString
		var processed int

		if err := rows.Scan(&e.ID, &ts, &e.Source, &e.EventType, &e.Title, &body, &metadata, &e.Priority, &processed); err != nil {
			return nil, err
		}
		e.TS = parseStoredTime(ts)
		e.Body = body.String
		e.Metadata = unmarshalMeta(metadata)
		e.Processed = processed != 0
		events = append(events, &e)
	}
	return events, rows.Err()
}
