package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/omnibrain/omnibrain/internal/events"
	"github.com/omnibrain/omnibrain/internal/memory"
	"github.com/omnibrain/omnibrain/internal/store"
)

// Source is the upcoming-events surface the collector needs; Client
// implements it.
type Source interface {
	Upcoming(ctx context.Context) ([]Item, error)
}

// Collector syncs the upcoming window into the store and memory.
// Re-syncing the same window is idempotent through the event upsert
// identity.
type Collector struct {
	source Source
	store  *store.Store
	memory *memory.Memory // may be nil
	bus    *events.Bus    // may be nil
	logger *slog.Logger
}

// NewCollector wires the collector.
func NewCollector(src Source, s *store.Store, mem *memory.Memory, bus *events.Bus, logger *slog.Logger) *Collector {
	return &Collector{source: src, store: s, memory: mem, bus: bus, logger: logger}
}

// Collect pulls the upcoming window and stores every entry. Returns
// how many entries were synced.
func (c *Collector) Collect(ctx context.Context) (int, error) {
	items, err := c.source.Upcoming(ctx)
	if err != nil {
		return 0, fmt.Errorf("calendar sync: %w", err)
	}

	synced := 0
	for _, item := range items {
		if err := c.storeItem(ctx, item); err != nil {
			c.logger.Warn("calendar entry not stored", "title", item.Title, "error", err)
			continue
		}
		synced++
	}

	c.bus.Publish(events.Event{
		Topic:  events.TopicCalendarSynced,
		Source: "calendar",
		Data:   map[string]any{"events": synced},
	})
	c.logger.Info("calendar synced", "events", synced)
	return synced, nil
}

func (c *Collector) storeItem(ctx context.Context, item Item) error {
	meta := map[string]any{
		"uid":      item.UID,
		"location": item.Location,
	}
	if len(item.Attendees) > 0 {
		meta["attendees"] = strings.Join(item.Attendees, ", ")
	}
	if !item.End.IsZero() {
		meta["end"] = item.End.Format("15:04")
	}

	if _, err := c.store.InsertEvent(&store.Event{
		Source:    "calendar",
		EventType: "meeting",
		Title:     item.Title,
		Body:      item.Description,
		TS:        item.Start,
		Metadata:  meta,
	}); err != nil {
		return err
	}

	if c.memory != nil {
		in := memory.CalendarInput(item.Title, item.Description, item.Location, item.Attendees, item.Start)
		if _, err := c.memory.Store(ctx, in); err != nil {
			c.logger.Warn("calendar entry not indexed", "title", item.Title, "error", err)
		}
	}
	return nil
}
