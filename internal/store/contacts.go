package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const contactColumns = "email, name, relationship, organization, last_interaction, interaction_count, avg_response_time_hours, notes"

// Relationship values recognized on contacts. Anything else is stored
// as unknown.
var knownRelationships = map[string]bool{
	"client": true, "investor": true, "family": true,
	"colleague": true, "friend": true, "vendor": true, "unknown": true,
}

// Contact is a person the user interacts with, keyed by email. When no
// real address is known a synthetic name.slug@contact.local key is
// used so the same person still accumulates history.
type Contact struct {
	Email                string    `json:"email"`
	Name                 string    `json:"name,omitempty"`
	Relationship         string    `json:"relationship"`
	Organization         string    `json:"organization,omitempty"`
	LastInteraction      time.Time `json:"last_interaction,omitempty"`
	InteractionCount     int       `json:"interaction_count"`
	AvgResponseTimeHours float64   `json:"avg_response_time_hours"`
	Notes                string    `json:"notes,omitempty"`
}

// IsVIP reports whether the contact qualifies as high-touch: at least
// ten interactions and a typical response time under four hours.
func (c *Contact) IsVIP() bool {
	return c.InteractionCount >= 10 && c.AvgResponseTimeHours < 4
}

// UpsertContact merges a contact observation into the store. Name,
// organization, notes, and last_interaction only overwrite when the
// incoming value is set; relationship only overwrites when it is a
// known value other than "unknown". Every upsert counts as one
// interaction. AvgResponseTimeHours <= 0 means "unmeasured": new
// contacts then default to 24h so interaction count alone never makes
// someone a VIP.
func (s *Store) UpsertContact(c *Contact) error {
	if c.Email == "" {
		return fmt.Errorf("contact requires an email")
	}
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))

	rel := strings.ToLower(c.Relationship)
	if !knownRelationships[rel] {
		rel = "unknown"
	}

	var avg sql.NullFloat64
	if c.AvgResponseTimeHours > 0 {
		avg = sql.NullFloat64{Float64: c.AvgResponseTimeHours, Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO contacts (email, name, relationship, organization, last_interaction, interaction_count, avg_response_time_hours, notes)
		VALUES (?, ?, ?, ?, ?, 1, COALESCE(?, 24.0), ?)
		ON CONFLICT(email) DO UPDATE SET
			name = COALESCE(excluded.name, contacts.name),
			relationship = CASE WHEN excluded.relationship != 'unknown'
				THEN excluded.relationship ELSE contacts.relationship END,
			organization = COALESCE(excluded.organization, contacts.organization),
			last_interaction = COALESCE(excluded.last_interaction, contacts.last_interaction),
			interaction_count = contacts.interaction_count + 1,
			avg_response_time_hours = COALESCE(excluded.avg_response_time_hours, contacts.avg_response_time_hours),
			notes = COALESCE(excluded.notes, contacts.notes)
	`, c.Email, nullStr(c.Name), rel, nullStr(c.Organization), nullTime(c.LastInteraction), avg, nullStr(c.Notes))
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

// UpsertContactByName records an interaction with someone whose email
// is unknown, keyed by a synthetic address derived from the name.
func (s *Store) UpsertContactByName(name, relationship, notes string) (*Contact, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("contact requires a name")
	}
	email := syntheticEmail(name)
	c := &Contact{
		Email:           email,
		Name:            name,
		Relationship:    relationship,
		Notes:           notes,
		LastInteraction: time.Now().UTC(),
	}
	if err := s.UpsertContact(c); err != nil {
		return nil, err
	}
	return s.GetContact(email)
}

// GetContact retrieves a contact by email.
func (s *Store) GetContact(email string) (*Contact, error) {
	return scanContact(s.db.QueryRow(
		`SELECT `+contactColumns+` FROM contacts WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email))))
}

// ListContacts returns contacts ordered by how much the user deals
// with them.
func (s *Store) ListContacts(limit int) ([]*Contact, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT `+contactColumns+` FROM contacts
		ORDER BY interaction_count DESC, last_interaction DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	return scanContacts(rows)
}

// ListVIPs returns contacts meeting the VIP thresholds.
func (s *Store) ListVIPs() ([]*Contact, error) {
	rows, err := s.db.Query(
		`SELECT ` + contactColumns + ` FROM contacts
		WHERE interaction_count >= 10 AND avg_response_time_hours < 4
		ORDER BY interaction_count DESC`)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	return scanContacts(rows)
}

// syntheticEmail derives a stable contact key from a display name:
// "Marco Rossi" -> "marco.rossi@contact.local".
func syntheticEmail(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '.' || r == '-' || r == '_':
			b.WriteRune(' ')
		}
	}
	slug := strings.Join(strings.Fields(b.String()), ".")
	if slug == "" {
		slug = "unnamed"
	}
	return slug + "@contact.local"
}

func scanContact(row *sql.Row) (*Contact, error) {
	var c Contact
	var name, organization, lastInteraction, notes sql.NullString

	err := row.Scan(&c.Email, &name, &c.Relationship, &organization,
		&lastInteraction, &c.InteractionCount, &c.AvgResponseTimeHours, &notes)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.Name = name.String
	c.Organization = organization.String
	c.Notes = notes.String
	if lastInteraction.Valid {
		c.LastInteraction = parseStoredTime(lastInteraction.String)
	}
	return &c, nil
}

func scanContacts(rows *sql.Rows) ([]*Contact, error) {
	var contacts []*Contact
	for rows.Next() {
		var c Contact
		var name, organization, lastInteraction, notes sql.NullString

		err := rows.Scan(&c.Email, &name, &c.Relationship, &organization,
			&lastInteraction, &c.InteractionCount, &c.AvgResponseTimeHours, &notes)
		if err != nil {
			return nil, err
		}
		c.Name = name.String
		c.Organization = organization.String
		c.Notes = notes.String
		if lastInteraction.Valid {
			c.LastInteraction = parseStoredTime(lastInteraction.String)
		}
		contacts = append(contacts, &c)
	}
	return contacts, rows.Err()
}
