package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Briefing types.
const (
	BriefingMorning = "morning"
	BriefingEvening = "evening"
	BriefingWeekly  = "weekly"
)

// Briefing is a generated daily or weekly recap. One row per
// (type, date); regeneration replaces the previous row.
type Briefing struct {
	ID              int64     `json:"id"`
	Date            string    `json:"date"` // YYYY-MM-DD
	Type            string    `json:"type"`
	Content         string    `json:"content"`
	EventsProcessed int       `json:"events_processed"`
	ActionsProposed int       `json:"actions_proposed"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// InsertBriefing stores a briefing, replacing any earlier briefing of
// the same type for the same date.
func (s *Store) InsertBriefing(b *Briefing) (int64, error) {
	if b.Type == "" {
		return 0, fmt.Errorf("briefing requires a type")
	}
	if b.Date == "" {
		b.Date = time.Now().Format("2006-01-02")
	}
	if b.GeneratedAt.IsZero() {
		b.GeneratedAt = time.Now().UTC()
	}

	res, err := s.db.Exec(`
		INSERT OR REPLACE INTO briefings (date, type, content, events_processed, actions_proposed, generated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.Date, b.Type, b.Content, b.EventsProcessed, b.ActionsProposed,
		b.GeneratedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("insert briefing: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	b.ID = id
	return id, nil
}

// LatestBriefing returns the most recent briefing of the given type.
func (s *Store) LatestBriefing(briefingType string) (*Briefing, error) {
	row := s.db.QueryRow(`
		SELECT id, date, type, content, events_processed, actions_proposed, generated_at
		FROM briefings WHERE type = ?
		ORDER BY date DESC, generated_at DESC LIMIT 1
	`, briefingType)

	var b Briefing
	var generatedAt string
	err := row.Scan(&b.ID, &b.Date, &b.Type, &b.Content,
		&b.EventsProcessed, &b.ActionsProposed, &generatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.GeneratedAt = parseStoredTime(generatedAt)
	return &b, nil
}
