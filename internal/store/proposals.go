package store

import (
	"database/sql"
	"fmt"
	"time"
)

const proposalColumns = "id, created_at, type, title, description, action_data, status, priority, expires_at, result, snoozed_until"

// Proposal statuses. Transitions are one-way except
// pending -> snoozed -> pending.
const (
	ProposalPending  = "pending"
	ProposalApproved = "approved"
	ProposalRejected = "rejected"
	ProposalSnoozed  = "snoozed"
	ProposalExecuted = "executed"
	ProposalExpired  = "expired"
)

var validProposalStatus = map[string]bool{
	ProposalPending: true, ProposalApproved: true, ProposalRejected: true,
	ProposalSnoozed: true, ProposalExecuted: true, ProposalExpired: true,
}

// Proposal is an action the daemon suggests and the user approves,
// rejects, or snoozes.
type Proposal struct {
	ID           int64          `json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	Type         string         `json:"type"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	ActionData   map[string]any `json:"action_data,omitempty"`
	Status       string         `json:"status"`
	Priority     int            `json:"priority"`
	ExpiresAt    time.Time      `json:"expires_at,omitempty"`
	Result       string         `json:"result,omitempty"`
	SnoozedUntil time.Time      `json:"snoozed_until,omitempty"`
}

// InsertProposal stores a new pending proposal and returns its id.
func (s *Store) InsertProposal(p *Proposal) (int64, error) {
	if p.Type == "" || p.Title == "" {
		return 0, fmt.Errorf("proposal requires type and title")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = ProposalPending
	}

	res, err := s.db.Exec(`
		INSERT INTO proposals (created_at, type, title, description, action_data, status, priority, expires_at, result, snoozed_until)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.CreatedAt.UTC().Format(time.RFC3339), p.Type, p.Title, nullStr(p.Description),
		marshalMeta(p.ActionData), p.Status, p.Priority, nullTime(p.ExpiresAt),
		nullStr(p.Result), nullTime(p.SnoozedUntil))
	if err != nil {
		return 0, fmt.Errorf("insert proposal: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	p.ID = id
	return id, nil
}

// GetProposal retrieves a proposal by id.
func (s *Store) GetProposal(id int64) (*Proposal, error) {
	return scanProposal(s.db.QueryRow(
		`SELECT `+proposalColumns+` FROM proposals WHERE id = ?`, id))
}

// ListPendingProposals returns pending proposals ordered by priority
// descending then age. Snoozed proposals whose snooze window has passed
// are woken back to pending first, so a snoozed item reappears without
// a separate sweep.
func (s *Store) ListPendingProposals() ([]*Proposal, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		UPDATE proposals SET status = 'pending', snoozed_until = NULL
		WHERE status = 'snoozed' AND snoozed_until IS NOT NULL AND snoozed_until <= ?
	`, now)
	if err != nil {
		return nil, fmt.Errorf("wake snoozed proposals: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT ` + proposalColumns + ` FROM proposals
		WHERE status = 'pending'
		ORDER BY priority DESC, created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query proposals: %w", err)
	}
	defer rows.Close()

	return scanProposals(rows)
}

// ListProposals returns recent proposals in any status, newest first.
func (s *Store) ListProposals(limit int) ([]*Proposal, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT `+proposalColumns+` FROM proposals ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query proposals: %w", err)
	}
	defer rows.Close()

	return scanProposals(rows)
}

// UpdateProposalStatus transitions a proposal. Terminal states
// (approved, rejected, executed, expired) cannot be left; snoozed may
// return to pending.
func (s *Store) UpdateProposalStatus(id int64, status, result string) error {
	if !validProposalStatus[status] {
		return fmt.Errorf("invalid proposal status %q", status)
	}

	cur, err := s.GetProposal(id)
	if err != nil {
		return err
	}
	switch cur.Status {
	case ProposalPending, ProposalSnoozed:
		// Open states may transition anywhere.
	case ProposalApproved:
		// An approved proposal may still be marked executed.
		if status != ProposalExecuted {
			return fmt.Errorf("proposal %d is %s, cannot become %s", id, cur.Status, status)
		}
	default:
		return fmt.Errorf("proposal %d is %s, cannot become %s", id, cur.Status, status)
	}

	_, err = s.db.Exec(
		`UPDATE proposals SET status = ?, result = ? WHERE id = ?`,
		status, nullStr(result), id)
	if err != nil {
		return fmt.Errorf("update proposal: %w", err)
	}
	return nil
}

// SnoozeProposal puts a pending proposal to sleep until the given time.
func (s *Store) SnoozeProposal(id int64, until time.Time) error {
	res, err := s.db.Exec(`
		UPDATE proposals SET status = 'snoozed', snoozed_until = ?
		WHERE id = ? AND status = 'pending'
	`, until.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("snooze proposal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("proposal %d is not pending", id)
	}
	return nil
}

// ExpireProposals marks pending proposals whose expires_at has passed
// as expired. A deadline exactly at now counts as past due. Returns how
// many rows changed.
func (s *Store) ExpireProposals() (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE proposals SET status = 'expired'
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= ?
	`, now)
	if err != nil {
		return 0, fmt.Errorf("expire proposals: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanProposal(row *sql.Row) (*Proposal, error) {
	var p Proposal
	var createdAt string
	var description, actionData, expiresAt, result, snoozedUntil sql.NullString

	err := row.Scan(&p.ID, &createdAt, &p.Type, &p.Title, &description,
		&actionData, &p.Status, &p.Priority, &expiresAt, &result, &snoozedUntil)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.CreatedAt = parseStoredTime(createdAt)
	p.Description = description.String
	p.ActionData = unmarshalMeta(actionData)
	p.Result = result.String
	if expiresAt.Valid {
		p.ExpiresAt = parseStoredTime(expiresAt.String)
	}
	if snoozedUntil.Valid {
		p.SnoozedUntil = parseStoredTime(snoozedUntil.String)
	}
	return &p, nil
}

func scanProposals(rows *sql.Rows) ([]*Proposal, error) {
	var proposals []*Proposal
	for rows.Next() {
		var p Proposal
		var createdAt string
		var description, actionData, expiresAt, result, snoozedUntil sql.NullString

		err := rows.Scan(&p.ID, &createdAt, &p.Type, &p.Title, &description,
			&actionData, &p.Status, &p.Priority, &expiresAt, &result, &snoozedUntil)
		if err != nil {
			return nil, err
		}
		p.CreatedAt = parseStoredTime(createdAt)
		p.Description = description.String
		p.ActionData = unmarshalMeta(actionData)
		p.Result = result.String
		if expiresAt.Valid {
			p.ExpiresAt = parseStoredTime(expiresAt.String)
		}
		if snoozedUntil.Valid {
			p.SnoozedUntil = parseStoredTime(snoozedUntil.String)
		}
		proposals = append(proposals, &p)
	}
	return proposals, rows.Err()
}
