// Package extract derives structured events and contacts from a chat
// exchange. It asks the model for a strict JSON summary and persists
// what comes back; the event upsert identity makes re-extraction of
// the same dialog a no-op.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/omnibrain/omnibrain/internal/llm"
	"github.com/omnibrain/omnibrain/internal/store"
)

const systemPrompt = `You extract structured facts from a conversation between a user and their assistant.
Return ONLY a JSON object, no prose, with this shape:
{
  "events": [{"title": "...", "event_type": "deadline|commitment|fact|task", "body": "...", "date": "YYYY-MM-DD or empty"}],
  "contacts": [{"name": "...", "email": "...", "relationship": "client|colleague|friend|family|vendor|unknown", "note": "..."}]
}
Only include items explicitly present in the conversation. Empty arrays are fine.`

// Extraction is the parsed model output.
type Extraction struct {
	Events []struct {
		Title     string `json:"title"`
		EventType string `json:"event_type"`
		Body      string `json:"body"`
		Date      string `json:"date"`
	} `json:"events"`
	Contacts []struct {
		Name         string `json:"name"`
		Email        string `json:"email"`
		Relationship string `json:"relationship"`
		Note         string `json:"note"`
	} `json:"contacts"`
}

// Extractor turns dialog into store rows.
type Extractor struct {
	store  *store.Store
	router *llm.Router
	logger *slog.Logger
}

// New creates an extractor. router may be nil; extraction is then a
// no-op.
func New(s *store.Store, router *llm.Router, logger *slog.Logger) *Extractor {
	return &Extractor{store: s, router: router, logger: logger}
}

// FromExchange extracts and persists structure from one user/assistant
// exchange. Returns how many events and contacts were written.
func (e *Extractor) FromExchange(ctx context.Context, userMsg, assistantMsg string) (int, int, error) {
	if e.router == nil {
		return 0, 0, nil
	}

	dialog := fmt.Sprintf("User: %s\n\nAssistant: %s", userMsg, assistantMsg)
	resp, err := e.router.Chat(ctx, llm.Request{
		System:   systemPrompt,
		Messages: []llm.Message{{Role: "user", Content: dialog}},
		Source:   "extractor",
	})
	if err != nil {
		return 0, 0, fmt.Errorf("extraction call: %w", err)
	}

	ext, err := parseExtraction(resp.Content)
	if err != nil {
		return 0, 0, fmt.Errorf("parse extraction: %w", err)
	}
	return e.persist(ext)
}

func (e *Extractor) persist(ext *Extraction) (int, int, error) {
	events := 0
	for _, ev := range ext.Events {
		if ev.Title == "" {
			continue
		}
		eventType := ev.EventType
		if eventType == "" {
			eventType = "fact"
		}
		ts := time.Now().UTC().Truncate(24 * time.Hour)
		if ev.Date != "" {
			if parsed, err := store.ParseTime(ev.Date); err == nil {
				ts = parsed
			}
		}
		_, err := e.store.InsertEvent(&store.Event{
			Source:    "chat",
			EventType: eventType,
			Title:     ev.Title,
			Body:      ev.Body,
			TS:        ts,
		})
		if err != nil {
			e.logger.Warn("extracted event not stored", "title", ev.Title, "error", err)
			continue
		}
		events++
	}

	contacts := 0
	for _, c := range ext.Contacts {
		var err error
		switch {
		case c.Email != "":
			err = e.store.UpsertContact(&store.Contact{
				Email:        c.Email,
				Name:         c.Name,
				Relationship: c.Relationship,
				Notes:        c.Note,
			})
		case c.Name != "":
			_, err = e.store.UpsertContactByName(c.Name, c.Relationship, c.Note)
		default:
			continue
		}
		if err != nil {
			e.logger.Warn("extracted contact not stored", "name", c.Name, "error", err)
			continue
		}
		contacts++
	}
	return events, contacts, nil
}

// parseExtraction tolerates markdown fences around the JSON body.
func parseExtraction(raw string) (*Extraction, error) {
	raw = strings.TrimSpace(raw)
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	var ext Extraction
	if err := json.Unmarshal([]byte(raw), &ext); err != nil {
		return nil, err
	}
	return &ext, nil
}
