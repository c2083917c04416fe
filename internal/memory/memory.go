// Package memory is the semantic-lookup facade over two indices: a
// mandatory keyword store (SQLite FTS5, the source of truth) and an
// optional vector store (embedded chromem collection). Callers only
// see the facade; which index answered a query is an implementation
// detail.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"
)

// Source filters understood by Search and GetRecent.
const (
	SourceAll      = "all"
	SourceEmail    = "email"
	SourceCalendar = "calendar"
	SourceChat     = "chat"
	SourceNote     = "note"
)

// Document is a stored memory entry as returned from lookups.
type Document struct {
	ID         string         `json:"id"`
	Text       string         `json:"text"`
	Source     string         `json:"source"`
	SourceType string         `json:"source_type,omitempty"`
	Timestamp  time.Time      `json:"ts"`
	Contacts   []string       `json:"contacts,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Score      float64        `json:"score,omitempty"`
}

// Input describes a document to store. ID may be empty, in which case
// a deterministic digest of source and text is used so re-ingesting
// the same content is idempotent.
type Input struct {
	ID         string
	Text       string
	Source     string
	SourceType string
	Timestamp  time.Time
	Contacts   []string
	Metadata   map[string]any
}

// SearchOptions narrow a search.
type SearchOptions struct {
	MaxResults    int
	SourceFilter  string // SourceAll or a specific source type
	TimeRangeDays int    // 0 = no time bound
}

// Memory is the facade. The keyword store is mandatory and
// authoritative; the vector store is an optional accelerator whose
// failures are never fatal.
type Memory struct {
	keyword *KeywordStore
	vector  *VectorStore // may be nil
	logger  *slog.Logger
}

// New creates the facade. vector may be nil for keyword-only
// operation.
func New(keyword *KeywordStore, vector *VectorStore, logger *slog.Logger) *Memory {
	return &Memory{keyword: keyword, vector: vector, logger: logger}
}

// Close closes both indices.
func (m *Memory) Close() error {
	if m.vector != nil {
		m.vector.Close()
	}
	return m.keyword.Close()
}

// HasVectorStore reports whether semantic search is active.
func (m *Memory) HasVectorStore() bool { return m.vector != nil }

// Store writes a document to both indices and returns its id. A
// vector-store failure is logged and ignored; the keyword write must
// succeed.
func (m *Memory) Store(ctx context.Context, in Input) (string, error) {
	if in.Text == "" {
		return "", fmt.Errorf("memory document requires text")
	}
	if in.ID == "" {
		in.ID = DocumentID(in.Source, in.Text)
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}

	if err := m.keyword.Store(in); err != nil {
		return "", fmt.Errorf("keyword store: %w", err)
	}

	if m.vector != nil {
		if err := m.vector.Store(ctx, in); err != nil {
			m.logger.Warn("vector store write failed", "id", in.ID, "error", err)
		}
	}
	return in.ID, nil
}

// Search returns ranked documents for the query. The vector store is
// consulted first when available; an empty vector result (or a vector
// error) falls back to the keyword store. An empty query returns an
// empty result, not an error.
func (m *Memory) Search(ctx context.Context, query string, opts SearchOptions) ([]Document, error) {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 10
	}

	if m.vector != nil {
		docs, err := m.vector.Search(ctx, query, opts)
		if err != nil {
			m.logger.Warn("vector search failed, falling back to keyword", "error", err)
		} else if len(docs) > 0 {
			return docs, nil
		}
	}

	return m.keyword.Search(query, opts)
}

// GetByID fetches a document from the authoritative keyword store.
func (m *Memory) GetByID(id string) (*Document, error) {
	return m.keyword.GetByID(id)
}

// GetRecent returns the newest documents, optionally filtered by
// source type.
func (m *Memory) GetRecent(maxResults int, sourceFilter string) ([]Document, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	return m.keyword.GetRecent(maxResults, sourceFilter)
}

// Delete removes a document from both indices.
func (m *Memory) Delete(ctx context.Context, id string) error {
	if m.vector != nil {
		if err := m.vector.Delete(ctx, id); err != nil {
			m.logger.Warn("vector store delete failed", "id", id, "error", err)
		}
	}
	return m.keyword.Delete(id)
}

// Count reports how many documents are stored, per the authoritative
// keyword index.
func (m *Memory) Count() (int, error) {
	return m.keyword.Count()
}

// DocumentID derives the deterministic id for a document: the first
// 16 hex characters of SHA-256 over source, ":", and the first 200
// characters of the text. Truncation is by rune so a multi-byte
// character is never split.
func DocumentID(source, text string) string {
	head := text
	if utf8.RuneCountInString(head) > 200 {
		runes := []rune(head)
		head = string(runes[:200])
	}
	sum := sha256.Sum256([]byte(source + ":" + head))
	return hex.EncodeToString(sum[:])[:16]
}
