package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// InstalledSkill is the durable registration of a discovered skill.
// The manifest on disk remains authoritative for handlers and
// triggers; this row tracks identity, permissions, and enablement.
type InstalledSkill struct {
	Name        string          `json:"name"`
	Version     string          `json:"version,omitempty"`
	Description string          `json:"description,omitempty"`
	Author      string          `json:"author,omitempty"`
	Category    string          `json:"category,omitempty"`
	Permissions []string        `json:"permissions,omitempty"`
	Enabled     bool            `json:"enabled"`
	InstalledAt time.Time       `json:"installed_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Settings    json.RawMessage `json:"settings,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// RegisterSkill upserts a skill registration, preserving the enabled
// flag and installed_at of an existing row.
func (s *Store) RegisterSkill(sk *InstalledSkill) error {
	if sk.Name == "" {
		return fmt.Errorf("skill requires a name")
	}
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := s.db.Exec(`
		INSERT INTO installed_skills (name, version, description, author, category, permissions, enabled, installed_at, updated_at, settings, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			version = excluded.version,
			description = excluded.description,
			author = excluded.author,
			category = excluded.category,
			permissions = excluded.permissions,
			updated_at = excluded.updated_at
	`, sk.Name, nullStr(sk.Version), nullStr(sk.Description), nullStr(sk.Author),
		nullStr(sk.Category), nullStr(strings.Join(sk.Permissions, ",")),
		sk.Enabled, now, now, nullRaw(sk.Settings), nullRaw(sk.Data))
	if err != nil {
		return fmt.Errorf("register skill: %w", err)
	}
	return nil
}

// GetSkill retrieves a skill registration by name.
func (s *Store) GetSkill(name string) (*InstalledSkill, error) {
	return scanSkill(s.db.QueryRow(
		`SELECT name, version, description, author, category, permissions, enabled, installed_at, updated_at, settings, data
		FROM installed_skills WHERE name = ?`, name))
}

// ListSkills returns all registered skills ordered by name.
func (s *Store) ListSkills() ([]*InstalledSkill, error) {
	rows, err := s.db.Query(
		`SELECT name, version, description, author, category, permissions, enabled, installed_at, updated_at, settings, data
		FROM installed_skills ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query skills: %w", err)
	}
	defer rows.Close()

	var skills []*InstalledSkill
	for rows.Next() {
		sk, err := scanSkillRow(rows)
		if err != nil {
			return nil, err
		}
		skills = append(skills, sk)
	}
	return skills, rows.Err()
}

// SetSkillEnabled flips a skill's enabled flag.
func (s *Store) SetSkillEnabled(name string, enabled bool) error {
	res, err := s.db.Exec(`
		UPDATE installed_skills SET enabled = ?, updated_at = ? WHERE name = ?
	`, enabled, time.Now().UTC().Format(time.RFC3339), name)
	if err != nil {
		return fmt.Errorf("set skill enabled: %w", err)
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

// RemoveSkill deletes a skill registration.
func (s *Store) RemoveSkill(name string) error {
	_, err := s.db.Exec(`DELETE FROM installed_skills WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("remove skill: %w", err)
	}
	return nil
}

// SetSkillData stores a skill's opaque persistent data blob.
func (s *Store) SetSkillData(name string, data json.RawMessage) error {
	_, err := s.db.Exec(`
		UPDATE installed_skills SET data = ?, updated_at = ? WHERE name = ?
	`, nullRaw(data), time.Now().UTC().Format(time.RFC3339), name)
	if err != nil {
		return fmt.Errorf("set skill data: %w", err)
	}
	return nil
}

type skillScanner interface {
	Scan(dest ...any) error
}

func scanSkill(row *sql.Row) (*InstalledSkill, error) {
	sk, err := scanSkillRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return sk, err
}

func scanSkillRow(row skillScanner) (*InstalledSkill, error) {
	var sk InstalledSkill
	var installedAt, updatedAt string
	var version, description, author, category, permissions, settings, data sql.NullString
	var enabled int

	err := row.Scan(&sk.Name, &version, &description, &author, &category,
		&permissions, &enabled, &installedAt, &updatedAt, &settings, &data)
	if err != nil {
		return nil, err
	}

	sk.Version = version.String
	sk.Description = description.String
	sk.Author = author.String
	sk.Category = category.String
	if permissions.Valid && permissions.String != "" {
		sk.Permissions = strings.Split(permissions.String, ",")
	}
	sk.Enabled = enabled != 0
	sk.InstalledAt = parseStoredTime(installedAt)
	sk.UpdatedAt = parseStoredTime(updatedAt)
	sk.Settings = rawOrNil(settings)
	sk.Data = rawOrNil(data)
	return &sk, nil
}
