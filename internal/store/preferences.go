package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Preference is a learned or configured key/value pair. Values are
// arbitrary JSON; typed accessors cover the common shapes.
type Preference struct {
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	Confidence  float64         `json:"confidence"`
	LearnedFrom string          `json:"learned_from,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// SetPreference upserts a preference. The value is marshaled to JSON;
// passing a json.RawMessage stores it as-is.
func (s *Store) SetPreference(key string, value any, confidence float64, learnedFrom string) error {
	if key == "" {
		return fmt.Errorf("preference requires a key")
	}

	var raw []byte
	switch v := value.(type) {
	case json.RawMessage:
		raw = v
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal preference %q: %w", key, err)
		}
		raw = b
	}

	_, err := s.db.Exec(`
		INSERT INTO preferences (key, value, confidence, learned_from, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			confidence = excluded.confidence,
			learned_from = excluded.learned_from,
			updated_at = excluded.updated_at
	`, key, string(raw), confidence, nullStr(learnedFrom), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	return nil
}

// GetPreference returns the raw JSON value for a key, or ok=false when
// the key has never been set.
func (s *Store) GetPreference(key string) (json.RawMessage, bool) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return nil, false
	}
	return json.RawMessage(value), true
}

// PreferenceString returns a string preference, or def when unset or
// not a string.
func (s *Store) PreferenceString(key, def string) string {
	raw, ok := s.GetPreference(key)
	if !ok {
		return def
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return def
	}
	return v
}

// PreferenceFloat returns a numeric preference, or def when unset or
// not a number.
func (s *Store) PreferenceFloat(key string, def float64) float64 {
	raw, ok := s.GetPreference(key)
	if !ok {
		return def
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return def
	}
	return v
}

// AddPreferenceFloat atomically adds delta to a numeric preference,
// creating it at delta when unset. Used for monthly cost counters.
func (s *Store) AddPreferenceFloat(key string, delta float64, learnedFrom string) (float64, error) {
	cur := s.PreferenceFloat(key, 0)
	next := cur + delta
	if err := s.SetPreference(key, next, 1.0, learnedFrom); err != nil {
		return 0, err
	}
	return next, nil
}

// AllPreferences returns every preference keyed by name.
func (s *Store) AllPreferences() (map[string]*Preference, error) {
	rows, err := s.db.Query(
		`SELECT key, value, confidence, learned_from, updated_at FROM preferences`)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	prefs := make(map[string]*Preference)
	for rows.Next() {
		var p Preference
		var value, updatedAt string
		var learnedFrom sql.NullString
		if err := rows.Scan(&p.Key, &value, &p.Confidence, &learnedFrom, &updatedAt); err != nil {
			return nil, err
		}
		p.Value = json.RawMessage(value)
		p.LearnedFrom = learnedFrom.String
		p.UpdatedAt = parseStoredTime(updatedAt)
		prefs[p.Key] = &p
	}
	return prefs, rows.Err()
}
