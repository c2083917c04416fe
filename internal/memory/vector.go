package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
)

// VectorStore is the optional semantic index, a chromem collection
// persisted under its own directory. All vectors live in memory, so
// this is an accelerator over the keyword store, never the source of
// truth.
type VectorStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     *slog.Logger
}

const collectionName = "memories"

// NewVectorStore opens (or creates) the persistent collection at dir
// using the given embedding function.
func NewVectorStore(dir string, embed chromem.EmbeddingFunc, logger *slog.Logger) (*VectorStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create vector dir: %w", err)
	}
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}
	coll, err := db.GetOrCreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("open collection: %w", err)
	}
	return &VectorStore{db: db, collection: coll, logger: logger}, nil
}

// Close is a no-op hook kept for symmetry; chromem persists on write.
func (v *VectorStore) Close() {}

// Store embeds and indexes one document.
func (v *VectorStore) Store(ctx context.Context, in Input) error {
	meta := map[string]string{
		"source":      in.Source,
		"source_type": in.SourceType,
		"ts":          in.Timestamp.UTC().Format(time.RFC3339),
	}
	if len(in.Contacts) > 0 {
		meta["contacts"] = strings.Join(in.Contacts, ",")
	}
	err := v.collection.AddDocuments(ctx, []chromem.Document{{
		ID:       in.ID,
		Metadata: meta,
		Content:  in.Text,
	}}, 1)
	if err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Search embeds the query and returns the nearest documents by cosine
// similarity. Source and time filters are applied on the metadata.
func (v *VectorStore) Search(ctx context.Context, query string, opts SearchOptions) ([]Document, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	count := v.collection.Count()
	if count == 0 {
		return nil, nil
	}

	var where map[string]string
	if opts.SourceFilter != "" && opts.SourceFilter != SourceAll {
		where = map[string]string{"source_type": opts.SourceFilter}
	}

	// Over-fetch so post-query time filtering still fills MaxResults.
	n := opts.MaxResults * 3
	if n > count {
		n = count
	}
	results, err := v.collection.Query(ctx, query, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	var cutoff time.Time
	if opts.TimeRangeDays > 0 {
		cutoff = time.Now().UTC().AddDate(0, 0, -opts.TimeRangeDays)
	}

	docs := make([]Document, 0, len(results))
	for _, r := range results {
		doc := Document{
			ID:         r.ID,
			Text:       r.Content,
			Source:     r.Metadata["source"],
			SourceType: r.Metadata["source_type"],
			Score:      float64(r.Similarity),
		}
		if ts, err := time.Parse(time.RFC3339, r.Metadata["ts"]); err == nil {
			doc.Timestamp = ts
		}
		if c := r.Metadata["contacts"]; c != "" {
			doc.Contacts = strings.Split(c, ",")
		}
		if !cutoff.IsZero() && doc.Timestamp.Before(cutoff) {
			continue
		}
		docs = append(docs, doc)
		if len(docs) >= opts.MaxResults {
			break
		}
	}
	return docs, nil
}

// Delete removes a document from the collection. Missing ids are not
// an error.
func (v *VectorStore) Delete(ctx context.Context, id string) error {
	if err := v.collection.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}
