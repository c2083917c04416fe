// Package calendar is the CalDAV collector: it syncs the upcoming
// window of the user's calendars into events and memory documents.
package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
)

// Config is one CalDAV account.
type Config struct {
	Endpoint string `yaml:"endpoint"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// WindowDays is how far ahead to sync. Default 14.
	WindowDays int `yaml:"window_days"`
}

// Item is one normalized calendar entry.
type Item struct {
	UID         string
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	Attendees   []string
}

// Client wraps a caldav.Client with lazy calendar discovery.
type Client struct {
	cfg    Config
	logger *slog.Logger

	client    *caldav.Client
	calendars []caldav.Calendar
}

// NewClient creates the client; discovery happens on first use.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 14
	}
	httpClient := webdav.HTTPClientWithBasicAuth(nil, cfg.Username, cfg.Password)
	client, err := caldav.NewClient(httpClient, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("caldav client: %w", err)
	}
	return &Client{cfg: cfg, logger: logger, client: client}, nil
}

func (c *Client) discover(ctx context.Context) error {
	if len(c.calendars) > 0 {
		return nil
	}
	principal, err := c.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return fmt.Errorf("find principal: %w", err)
	}
	homeSet, err := c.client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return fmt.Errorf("find calendar home set: %w", err)
	}
	calendars, err := c.client.FindCalendars(ctx, homeSet)
	if err != nil {
		return fmt.Errorf("find calendars: %w", err)
	}
	c.calendars = calendars
	c.logger.Info("CalDAV calendars discovered", "count", len(calendars))
	return nil
}

// Upcoming returns all events from now through the configured window,
// across every discovered calendar.
func (c *Client) Upcoming(ctx context.Context) ([]Item, error) {
	if err := c.discover(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	end := start.AddDate(0, 0, c.cfg.WindowDays)
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{Name: ical.CompEvent, AllProps: true}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: start,
				End:   end,
			}},
		},
	}

	var items []Item
	for _, cal := range c.calendars {
		objects, err := c.client.QueryCalendar(ctx, cal.Path, query)
		if err != nil {
			c.logger.Warn("calendar query failed", "calendar", cal.Name, "error", err)
			continue
		}
		for _, obj := range objects {
			items = append(items, itemsFromObject(obj)...)
		}
	}
	return items, nil
}

func itemsFromObject(obj caldav.CalendarObject) []Item {
	if obj.Data == nil {
		return nil
	}
	var items []Item
	for _, ev := range obj.Data.Events() {
		item := Item{
			UID:         propText(ev, ical.PropUID),
			Title:       propText(ev, ical.PropSummary),
			Description: propText(ev, ical.PropDescription),
			Location:    propText(ev, ical.PropLocation),
		}
		if start, err := ev.DateTimeStart(time.Local); err == nil {
			item.Start = start
		}
		if end, err := ev.DateTimeEnd(time.Local); err == nil {
			item.End = end
		}
		for _, prop := range ev.Props.Values(ical.PropAttendee) {
			if addr := mailtoAddr(prop.Value); addr != "" {
				item.Attendees = append(item.Attendees, addr)
			}
		}
		if item.Title != "" && !item.Start.IsZero() {
			items = append(items, item)
		}
	}
	return items
}

func propText(ev ical.Event, name string) string {
	prop := ev.Props.Get(name)
	if prop == nil {
		return ""
	}
	return prop.Value
}

func mailtoAddr(value string) string {
	const prefix = "mailto:"
	if len(value) > len(prefix) && value[:len(prefix)] == prefix {
		return value[len(prefix):]
	}
	return value
}
