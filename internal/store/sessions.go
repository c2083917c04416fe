package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AgentSession is a serialized snapshot of an in-flight conversation
// or reasoning session.
type AgentSession struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	TaskType  string          `json:"task_type,omitempty"`
	State     json.RawMessage `json:"state,omitempty"`
	Profile   json.RawMessage `json:"profile,omitempty"`
	Plan      json.RawMessage `json:"plan,omitempty"`
	Graph     json.RawMessage `json:"graph,omitempty"`
	Status    string          `json:"status"` // active, completed
}

// SaveSession upserts a session snapshot. A missing ID is generated.
func (s *Store) SaveSession(sess *AgentSession) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	if sess.Status == "" {
		sess.Status = "active"
	}

	_, err := s.db.Exec(`
		INSERT INTO agent_sessions (id, created_at, task_type, state_json, profile_json, plan_json, graph_json, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			task_type = excluded.task_type,
			state_json = excluded.state_json,
			profile_json = excluded.profile_json,
			plan_json = excluded.plan_json,
			graph_json = excluded.graph_json,
			status = excluded.status
	`, sess.ID, sess.CreatedAt.UTC().Format(time.RFC3339), nullStr(sess.TaskType),
		nullRaw(sess.State), nullRaw(sess.Profile), nullRaw(sess.Plan),
		nullRaw(sess.Graph), sess.Status)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSession retrieves a session snapshot by id.
func (s *Store) GetSession(id string) (*AgentSession, error) {
	row := s.db.QueryRow(`
		SELECT id, created_at, task_type, state_json, profile_json, plan_json, graph_json, status
		FROM agent_sessions WHERE id = ?
	`, id)

	var sess AgentSession
	var createdAt string
	var taskType, state, profile, plan, graph sql.NullString
	err := row.Scan(&sess.ID, &createdAt, &taskType, &state, &profile, &plan, &graph, &sess.Status)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	sess.CreatedAt = parseStoredTime(createdAt)
	sess.TaskType = taskType.String
	sess.State = rawOrNil(state)
	sess.Profile = rawOrNil(profile)
	sess.Plan = rawOrNil(plan)
	sess.Graph = rawOrNil(graph)
	return &sess, nil
}

// ListSessions returns session snapshots, newest first.
func (s *Store) ListSessions(limit int) ([]*AgentSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, created_at, task_type, state_json, profile_json, plan_json, graph_json, status
		FROM agent_sessions ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*AgentSession
	for rows.Next() {
		var sess AgentSession
		var createdAt string
		var taskType, state, profile, plan, graph sql.NullString
		if err := rows.Scan(&sess.ID, &createdAt, &taskType, &state, &profile, &plan, &graph, &sess.Status); err != nil {
			return nil, err
		}
		sess.CreatedAt = parseStoredTime(createdAt)
		sess.TaskType = taskType.String
		sess.State = rawOrNil(state)
		sess.Profile = rawOrNil(profile)
		sess.Plan = rawOrNil(plan)
		sess.Graph = rawOrNil(graph)
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session snapshot.
func (s *Store) DeleteSession(id string) error {
	_, err := s.db.Exec(`DELETE FROM agent_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func nullRaw(r json.RawMessage) sql.NullString {
	if len(r) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(r), Valid: true}
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
