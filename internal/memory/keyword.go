package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	_ "github.com/mattn/go-sqlite3"
)

// KeywordStore is the FTS5-backed index over memory documents. It owns
// its own database file, separate from the main store.
type KeywordStore struct {
	db     *sql.DB
	logger *slog.Logger
}

const keywordSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	text TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	source_type TEXT NOT NULL DEFAULT '',
	ts TEXT NOT NULL,
	contacts TEXT NOT NULL DEFAULT '[]',
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_documents_ts ON documents(ts);
CREATE INDEX IF NOT EXISTS idx_documents_source_type ON documents(source_type);

CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
	text, source, contacts,
	content='documents', content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
	INSERT INTO documents_fts(rowid, text, source, contacts)
	VALUES (new.rowid, new.text, new.source, new.contacts);
END;
CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents BEGIN
	INSERT INTO documents_fts(documents_fts, rowid, text, source, contacts)
	VALUES ('delete', old.rowid, old.text, old.source, old.contacts);
END;
CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE ON documents BEGIN
	INSERT INTO documents_fts(documents_fts, rowid, text, source, contacts)
	VALUES ('delete', old.rowid, old.text, old.source, old.contacts);
	INSERT INTO documents_fts(rowid, text, source, contacts)
	VALUES (new.rowid, new.text, new.source, new.contacts);
END;
`

// NewKeywordStore opens (creating if needed) the memory database at
// path.
func NewKeywordStore(path string, logger *slog.Logger) (*KeywordStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	if _, err := db.Exec(keywordSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory schema: %w", err)
	}
	return &KeywordStore{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (k *KeywordStore) Close() error { return k.db.Close() }

// Store upserts a document. Re-storing the same id replaces the row,
// which keeps the FTS index in sync through the update trigger.
func (k *KeywordStore) Store(in Input) error {
	contacts, err := json.Marshal(in.Contacts)
	if err != nil {
		return fmt.Errorf("marshal contacts: %w", err)
	}
	if in.Contacts == nil {
		contacts = []byte("[]")
	}
	meta := []byte("{}")
	if in.Metadata != nil {
		meta, err = json.Marshal(in.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}
	_, err = k.db.Exec(`
		INSERT INTO documents (id, text, source, source_type, ts, contacts, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			source = excluded.source,
			source_type = excluded.source_type,
			ts = excluded.ts,
			contacts = excluded.contacts,
			metadata = excluded.metadata`,
		in.ID, in.Text, in.Source, in.SourceType,
		in.Timestamp.UTC().Format(time.RFC3339), string(contacts), string(meta))
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// Search runs a full-text query. The raw query is sanitized into
// quoted OR-joined tokens so user input can never produce an FTS5
// parse error; a query with no usable tokens returns an empty result.
func (k *KeywordStore) Search(query string, opts SearchOptions) ([]Document, error) {
	fts := sanitizeQuery(query)
	if fts == "" {
		return nil, nil
	}

	q := `
		SELECT d.id, d.text, d.source, d.source_type, d.ts, d.contacts, d.metadata
		FROM documents_fts f
		JOIN documents d ON d.rowid = f.rowid
		WHERE documents_fts MATCH ?`
	args := []any{fts}
	if opts.SourceFilter != "" && opts.SourceFilter != SourceAll {
		q += " AND d.source_type = ?"
		args = append(args, opts.SourceFilter)
	}
	if opts.TimeRangeDays > 0 {
		q += " AND d.ts >= ?"
		args = append(args, time.Now().UTC().AddDate(0, 0, -opts.TimeRangeDays).Format(time.RFC3339))
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, opts.MaxResults)

	rows, err := k.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// GetByID fetches one document.
func (k *KeywordStore) GetByID(id string) (*Document, error) {
	row := k.db.QueryRow(`
		SELECT id, text, source, source_type, ts, contacts, metadata
		FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// GetRecent returns the newest documents, optionally restricted to one
// source type.
func (k *KeywordStore) GetRecent(maxResults int, sourceFilter string) ([]Document, error) {
	q := `SELECT id, text, source, source_type, ts, contacts, metadata FROM documents`
	args := []any{}
	if sourceFilter != "" && sourceFilter != SourceAll {
		q += " WHERE source_type = ?"
		args = append(args, sourceFilter)
	}
	q += " ORDER BY ts DESC LIMIT ?"
	args = append(args, maxResults)

	rows, err := k.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("recent documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// Delete removes a document. Deleting a missing id is a no-op.
func (k *KeywordStore) Delete(id string) error {
	if _, err := k.db.Exec(`DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Count returns the number of stored documents.
func (k *KeywordStore) Count() (int, error) {
	var n int
	if err := k.db.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

func scanDocuments(rows *sql.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func scanDocument(scan func(dest ...any) error) (*Document, error) {
	var doc Document
	var ts, contacts, meta string
	if err := scan(&doc.ID, &doc.Text, &doc.Source, &doc.SourceType, &ts, &contacts, &meta); err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		doc.Timestamp = t
	}
	if contacts != "" && contacts != "[]" {
		json.Unmarshal([]byte(contacts), &doc.Contacts)
	}
	if meta != "" && meta != "{}" {
		json.Unmarshal([]byte(meta), &doc.Metadata)
	}
	return &doc, nil
}

// sanitizeQuery strips FTS5 syntax from user input: only letters,
// digits, space, and . - _ @ survive, and each remaining token is
// double-quoted and OR-joined.
func sanitizeQuery(query string) string {
	var b strings.Builder
	for _, r := range query {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '.' || r == '-' || r == '_' || r == '@':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	words := strings.Fields(b.String())
	if len(words) == 0 {
		return ""
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = `"` + strings.ReplaceAll(w, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}
