package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/emersion/go-vcard"
)

// PruneCounts reports how many rows each retention sweep removed.
type PruneCounts struct {
	Events    int `json:"events"`
	Proposals int `json:"proposals"`
	Sessions  int `json:"sessions"`
}

// Prune removes processed events, settled proposals, and completed
// sessions older than the given retention windows. A window of zero
// or less skips that sweep.
func (s *Store) Prune(eventDays, proposalDays, sessionDays int) (PruneCounts, error) {
	var counts PruneCounts

	if eventDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -eventDays).Format(time.RFC3339)
		res, err := s.db.Exec(
			`DELETE FROM events WHERE processed = 1 AND ts < ?`, cutoff)
		if err != nil {
			return counts, fmt.Errorf("prune events: %w", err)
		}
		n, _ := res.RowsAffected()
		counts.Events = int(n)
	}

	if proposalDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -proposalDays).Format(time.RFC3339)
		res, err := s.db.Exec(`
			DELETE FROM proposals
			WHERE status IN ('approved', 'rejected', 'executed', 'expired') AND created_at < ?
		`, cutoff)
		if err != nil {
			return counts, fmt.Errorf("prune proposals: %w", err)
		}
		n, _ := res.RowsAffected()
		counts.Proposals = int(n)
	}

	if sessionDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -sessionDays).Format(time.RFC3339)
		res, err := s.db.Exec(`
			DELETE FROM agent_sessions WHERE status = 'completed' AND created_at < ?
		`, cutoff)
		if err != nil {
			return counts, fmt.Errorf("prune sessions: %w", err)
		}
		n, _ := res.RowsAffected()
		counts.Sessions = int(n)
	}

	return counts, nil
}

// Vacuum compacts the database file. Run sparingly; it rewrites the
// whole file and blocks writers.
func (s *Store) Vacuum() error {
	if _, err := s.db.Exec(`VACUUM`); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// ExportAll writes every table to dir as JSON, plus contacts in vCard
// form. The directory is created if absent. Used for GDPR export.
func (s *Store) ExportAll(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	exports := []struct {
		file string
		load func() (any, error)
	}{
		{"events.json", func() (any, error) { return s.QueryEvents(EventFilter{Limit: 1 << 20}) }},
		{"contacts.json", func() (any, error) { return s.ListContacts(1 << 20) }},
		{"proposals.json", func() (any, error) { return s.ListProposals(1 << 20) }},
		{"observations.json", func() (any, error) { return s.ListObservations("", 0, 0) }},
		{"preferences.json", func() (any, error) { return s.AllPreferences() }},
		{"sessions.json", func() (any, error) { return s.ListSessions(1 << 20) }},
		{"skills.json", func() (any, error) { return s.ListSkills() }},
		{"llm_calls.json", func() (any, error) { return s.ListLLMCalls(LLMCallFilter{Limit: 1 << 20}) }},
	}

	for _, exp := range exports {
		data, err := exp.load()
		if err != nil {
			return fmt.Errorf("export %s: %w", exp.file, err)
		}
		if err := writeJSONFile(filepath.Join(dir, exp.file), data); err != nil {
			return err
		}
	}

	if err := s.exportChatMessages(dir); err != nil {
		return err
	}
	return s.exportVCards(filepath.Join(dir, "contacts.vcf"))
}

func (s *Store) exportChatMessages(dir string) error {
	sessions, err := s.ListChatSessions()
	if err != nil {
		return fmt.Errorf("export chat sessions: %w", err)
	}
	all := make(map[string][]*ChatMessage, len(sessions))
	for _, info := range sessions {
		msgs, err := s.GetChatMessages(info.SessionID, 0)
		if err != nil {
			return fmt.Errorf("export chat session %s: %w", info.SessionID, err)
		}
		all[info.SessionID] = msgs
	}
	return writeJSONFile(filepath.Join(dir, "chat_messages.json"), all)
}

// exportVCards writes all contacts as a single vCard 4.0 file.
func (s *Store) exportVCards(path string) error {
	contacts, err := s.ListContacts(1 << 20)
	if err != nil {
		return fmt.Errorf("export vcards: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	enc := vcard.NewEncoder(f)
	for _, c := range contacts {
		card := make(vcard.Card)
		name := c.Name
		if name == "" {
			name = c.Email
		}
		card.SetValue(vcard.FieldFormattedName, name)
		card.SetValue(vcard.FieldEmail, c.Email)
		if c.Organization != "" {
			card.SetValue(vcard.FieldOrganization, c.Organization)
		}
		if c.Notes != "" {
			card.SetValue(vcard.FieldNote, c.Notes)
		}
		vcard.ToV4(card)
		if err := enc.Encode(card); err != nil {
			return fmt.Errorf("encode vcard for %s: %w", c.Email, err)
		}
	}
	return nil
}

// WipeAll deletes every row from every table. The schema remains. Used
// for GDPR erasure; irreversible.
func (s *Store) WipeAll() error {
	tables := []string{
		"events", "contacts", "proposals", "observations", "preferences",
		"briefings", "agent_sessions", "installed_skills", "chat_messages",
		"llm_calls",
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range tables {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("wipe %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if s.ftsEnabled {
		if _, err := s.db.Exec(`INSERT INTO events_fts(events_fts) VALUES('rebuild')`); err != nil {
			s.logger.Warn("failed to rebuild FTS after wipe", "error", err)
		}
	}
	s.logger.Info("all store data wiped")
	return nil
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
