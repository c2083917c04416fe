package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/omnibrain/omnibrain/internal/events"
	"github.com/omnibrain/omnibrain/internal/memory"
	"github.com/omnibrain/omnibrain/internal/store"
)

// highwaterKey is the preference persisting the last collected UID.
const highwaterKey = "email.highwater_uid"

// Fetcher is the IMAP surface the collector needs; Client implements
// it.
type Fetcher interface {
	FetchAbove(ctx context.Context, sinceUID uint32) ([]Message, error)
}

// Collector polls the account and projects new mail into the store,
// the memory index, and the contact ledger.
type Collector struct {
	fetcher Fetcher
	store   *store.Store
	memory  *memory.Memory // may be nil
	bus     *events.Bus    // may be nil
	logger  *slog.Logger
}

// NewCollector wires the collector.
func NewCollector(f Fetcher, s *store.Store, mem *memory.Memory, bus *events.Bus, logger *slog.Logger) *Collector {
	return &Collector{fetcher: f, store: s, memory: mem, bus: bus, logger: logger}
}

// Collect fetches messages above the persisted high-water UID and
// stores them. Returns how many messages were captured. The high-water
// mark only advances past messages that reached the store.
func (c *Collector) Collect(ctx context.Context) (int, error) {
	since := uint32(c.store.PreferenceFloat(highwaterKey, 0))

	messages, err := c.fetcher.FetchAbove(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("fetch mail: %w", err)
	}
	if len(messages) == 0 {
		return 0, nil
	}

	stored := 0
	highwater := since
	for _, msg := range messages {
		if err := c.storeMessage(ctx, msg); err != nil {
			c.logger.Warn("email not stored", "uid", msg.UID, "error", err)
			break
		}
		stored++
		if msg.UID > highwater {
			highwater = msg.UID
		}
	}

	if highwater > since {
		if err := c.store.SetPreference(highwaterKey, float64(highwater), 1.0, "email"); err != nil {
			c.logger.Warn("high-water mark not persisted", "error", err)
		}
	}
	c.logger.Info("email collected", "new", stored, "highwater", highwater)
	return stored, nil
}

func (c *Collector) storeMessage(ctx context.Context, msg Message) error {
	eventID, err := c.store.InsertEvent(&store.Event{
		Source:    "gmail",
		EventType: "email",
		Title:     msg.Subject,
		Body:      msg.Body,
		TS:        msg.Date,
		Metadata: map[string]any{
			"sender":       msg.From,
			"sender_email": msg.FromAdr,
			"to":           strings.Join(msg.To, ", "),
			"uid":          msg.UID,
		},
	})
	if err != nil {
		return err
	}

	if c.memory != nil {
		if _, err := c.memory.Store(ctx, memory.EmailInput(msg.From, msg.Subject, msg.Body, msg.Date)); err != nil {
			c.logger.Warn("email not indexed in memory", "uid", msg.UID, "error", err)
		}
	}

	if msg.FromAdr != "" {
		if err := c.store.UpsertContact(&store.Contact{
			Email:           msg.FromAdr,
			Name:            senderName(msg.From),
			Relationship:    "unknown",
			LastInteraction: msg.Date,
		}); err != nil {
			c.logger.Warn("sender contact not upserted", "email", msg.FromAdr, "error", err)
		}
	}

	c.bus.Publish(events.Event{
		Topic:  events.TopicNewEmail,
		Source: "email",
		Data: map[string]any{
			"event_id": eventID,
			"sender":   msg.From,
			"subject":  msg.Subject,
		},
	})
	return nil
}

// senderName extracts the display name from "Name <addr>".
func senderName(from string) string {
	if i := strings.IndexByte(from, '<'); i > 0 {
		return strings.TrimSpace(from[:i])
	}
	return ""
}
