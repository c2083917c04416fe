// Package github collects GitHub notifications into events
// (source=github) so briefings and chat context can mention review
// requests and mentions alongside email and calendar activity.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gh "github.com/google/go-github/v69/github"

	"github.com/omnibrain/omnibrain/internal/store"
)

// lastSyncKey is the preference persisting the last successful sync
// time, used as the notifications Since filter.
const lastSyncKey = "github.last_sync"

// Lister is the GitHub surface the collector needs.
type Lister interface {
	ListNotifications(ctx context.Context, since time.Time) ([]*gh.Notification, error)
}

// Client wraps the go-github activity API.
type Client struct {
	gh *gh.Client
}

// NewClient authenticates with a personal access token.
func NewClient(token string) *Client {
	return &Client{gh: gh.NewClient(nil).WithAuthToken(token)}
}

// ListNotifications returns unread notifications updated after since.
func (c *Client) ListNotifications(ctx context.Context, since time.Time) ([]*gh.Notification, error) {
	opts := &gh.NotificationListOptions{
		Since:       since,
		ListOptions: gh.ListOptions{PerPage: 50},
	}
	var all []*gh.Notification
	for {
		notifications, resp, err := c.gh.Activity.ListNotifications(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("list notifications: %w", err)
		}
		all = append(all, notifications...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// Collector projects notifications into events.
type Collector struct {
	lister Lister
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewCollector wires the collector.
func NewCollector(l Lister, s *store.Store, logger *slog.Logger) *Collector {
	return &Collector{lister: l, store: s, logger: logger, now: time.Now}
}

// Collect fetches notifications since the last sync and stores them.
func (c *Collector) Collect(ctx context.Context) (int, error) {
	var since time.Time
	if raw := c.store.PreferenceString(lastSyncKey, ""); raw != "" {
		if t, err := store.ParseTime(raw); err == nil {
			since = t
		}
	}

	notifications, err := c.lister.ListNotifications(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("github collect: %w", err)
	}

	stored := 0
	for _, n := range notifications {
		if n.Subject == nil {
			continue
		}
		ts := c.now().UTC()
		if n.UpdatedAt != nil {
			ts = n.UpdatedAt.Time
		}
		repo := ""
		if n.Repository != nil {
			repo = n.Repository.GetFullName()
		}
		_, err := c.store.InsertEvent(&store.Event{
			Source:    "github",
			EventType: "notification",
			Title:     fmt.Sprintf("[%s] %s", repo, n.Subject.GetTitle()),
			Body:      fmt.Sprintf("%s on %s (%s)", n.Subject.GetType(), repo, n.GetReason()),
			TS:        ts,
			Metadata: map[string]any{
				"repo":   repo,
				"type":   n.Subject.GetType(),
				"reason": n.GetReason(),
				"url":    n.Subject.GetURL(),
			},
		})
		if err != nil {
			c.logger.Warn("github notification not stored", "repo", repo, "error", err)
			continue
		}
		stored++
	}

	if err := c.store.SetPreference(lastSyncKey, c.now().UTC().Format(time.RFC3339), 1.0, "github"); err != nil {
		c.logger.Warn("github sync time not persisted", "error", err)
	}
	c.logger.Info("github collected", "notifications", stored)
	return stored, nil
}
