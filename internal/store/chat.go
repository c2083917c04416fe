package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ChatMessage is one turn of a chat session, ordered by timestamp.
type ChatMessage struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	Role      string         `json:"role"` // user, assistant, tool
	Content   string         `json:"content"`
	TS        time.Time      `json:"ts"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// InsertChatMessage appends a message to a session.
func (s *Store) InsertChatMessage(m *ChatMessage) (int64, error) {
	if m.SessionID == "" || m.Role == "" {
		return 0, fmt.Errorf("chat message requires session_id and role")
	}
	if m.TS.IsZero() {
		m.TS = time.Now().UTC()
	}

	res, err := s.db.Exec(`
		INSERT INTO chat_messages (session_id, role, content, ts, metadata)
		VALUES (?, ?, ?, ?, ?)
	`, m.SessionID, m.Role, m.Content, m.TS.UTC().Format(time.RFC3339Nano), marshalMeta(m.Metadata))
	if err != nil {
		return 0, fmt.Errorf("insert chat message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	m.ID = id
	return id, nil
}

// GetChatMessages returns the last limit messages of a session in
// chronological order. limit <= 0 returns everything.
func (s *Store) GetChatMessages(sessionID string, limit int) ([]*ChatMessage, error) {
	query := `SELECT id, session_id, role, content, ts, metadata FROM chat_messages WHERE session_id = ? ORDER BY ts, id`
	args := []any{sessionID}
	if limit > 0 {
		// Take the newest N, then restore chronological order.
		query = `SELECT id, session_id, role, content, ts, metadata FROM (
			SELECT id, session_id, role, content, ts, metadata FROM chat_messages
			WHERE session_id = ? ORDER BY ts DESC, id DESC LIMIT ?
		) ORDER BY ts, id`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()

	var messages []*ChatMessage
	for rows.Next() {
		var m ChatMessage
		var ts string
		var metadata sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &ts, &metadata); err != nil {
			return nil, err
		}
		m.TS = parseStoredTime(ts)
		m.Metadata = unmarshalMeta(metadata)
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// ChatSessionInfo summarizes one chat session for listing.
type ChatSessionInfo struct {
	SessionID    string    `json:"session_id"`
	MessageCount int       `json:"message_count"`
	FirstTS      time.Time `json:"first_ts"`
	LastTS       time.Time `json:"last_ts"`
}

// ListChatSessions returns all sessions with message counts, most
// recently active first.
func (s *Store) ListChatSessions() ([]*ChatSessionInfo, error) {
	rows, err := s.db.Query(`
		SELECT session_id, COUNT(*), MIN(ts), MAX(ts)
		FROM chat_messages GROUP BY session_id ORDER BY MAX(ts) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query chat sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*ChatSessionInfo
	for rows.Next() {
		var info ChatSessionInfo
		var first, last string
		if err := rows.Scan(&info.SessionID, &info.MessageCount, &first, &last); err != nil {
			return nil, err
		}
		info.FirstTS = parseStoredTime(first)
		info.LastTS = parseStoredTime(last)
		sessions = append(sessions, &info)
	}
	return sessions, rows.Err()
}

// DeleteChatSession removes all messages of a session.
func (s *Store) DeleteChatSession(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM chat_messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete chat session: %w", err)
	}
	return nil
}
