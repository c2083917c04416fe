package store

import (
	"fmt"
	"strings"
	"time"
)

const observationColumns = "id, ts, pattern_type, description, frequency, last_seen, confidence, promoted_to_automation"

// Observation is a single recorded behavior: "user archives newsletters
// in the morning", "user searches for invoices weekly". The pattern
// detector clusters these into DetectedPatterns.
type Observation struct {
	ID                   int64     `json:"id"`
	TS                   time.Time `json:"ts"`
	PatternType          string    `json:"pattern_type"`
	Description          string    `json:"description"`
	Frequency            int       `json:"frequency"`
	LastSeen             time.Time `json:"last_seen"`
	Confidence           float64   `json:"confidence"`
	PromotedToAutomation bool      `json:"promoted_to_automation"`
}

// InsertObservation appends a behavioral observation and returns its id.
func (s *Store) InsertObservation(o *Observation) (int64, error) {
	if o.PatternType == "" || o.Description == "" {
		return 0, fmt.Errorf("observation requires pattern_type and description")
	}
	if o.TS.IsZero() {
		o.TS = time.Now().UTC()
	}
	if o.LastSeen.IsZero() {
		o.LastSeen = o.TS
	}
	if o.Frequency <= 0 {
		o.Frequency = 1
	}

	res, err := s.db.Exec(`
		INSERT INTO observations (ts, pattern_type, description, frequency, last_seen, confidence, promoted_to_automation)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, o.TS.UTC().Format(time.RFC3339), o.PatternType, o.Description, o.Frequency,
		o.LastSeen.UTC().Format(time.RFC3339), o.Confidence, o.PromotedToAutomation)
	if err != nil {
		return 0, fmt.Errorf("insert observation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	o.ID = id
	return id, nil
}

// ListObservations returns observations from the last days, optionally
// filtered by pattern type and minimum confidence. days <= 0 means no
// time bound.
func (s *Store) ListObservations(patternType string, minConfidence float64, days int) ([]*Observation, error) {
	var where []string
	var args []any

	if patternType != "" {
		where = append(where, "pattern_type = ?")
		args = append(args, patternType)
	}
	if minConfidence > 0 {
		where = append(where, "confidence >= ?")
		args = append(args, minConfidence)
	}
	if days > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -days)
		where = append(where, "ts >= ?")
		args = append(args, cutoff.Format(time.RFC3339))
	}

	query := `SELECT ` + observationColumns + ` FROM observations`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY ts DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var obs []*Observation
	for rows.Next() {
		var o Observation
		var ts, lastSeen string
		var promoted int
		if err := rows.Scan(&o.ID, &ts, &o.PatternType, &o.Description,
			&o.Frequency, &lastSeen, &o.Confidence, &promoted); err != nil {
			return nil, err
		}
		o.TS = parseStoredTime(ts)
		o.LastSeen = parseStoredTime(lastSeen)
		o.PromotedToAutomation = promoted != 0
		obs = append(obs, &o)
	}
	return obs, rows.Err()
}

// PromoteObservations marks the given observation rows as promoted to
// an automation.
func (s *Store) PromoteObservations(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.Exec(
		`UPDATE observations SET promoted_to_automation = 1 WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("promote observations: %w", err)
	}
	return nil
}
