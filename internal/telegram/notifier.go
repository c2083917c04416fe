// Package telegram delivers notifications to the user's Telegram
// chat: important and critical immediately, fyi batched into a
// periodic digest. Two commands are answered: /status and /briefing.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/omnibrain/omnibrain/internal/events"
	"github.com/omnibrain/omnibrain/internal/store"
)

const (
	defaultFlushInterval = 15 * time.Minute
	maxBatchedFYI        = 20
)

// sender abstracts the bot API for tests.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier forwards bus notifications to one Telegram chat.
type Notifier struct {
	bot    sender
	api    *tgbotapi.BotAPI // nil in tests
	chatID int64
	bus    *events.Bus
	store  *store.Store
	logger *slog.Logger

	// status is the daemon's status snapshot for /status.
	status func() map[string]any

	flushInterval time.Duration
	mu            sync.Mutex
	fyiQueue      []string
}

// New connects the bot and wires the notifier. status may be nil.
func New(token string, chatID int64, bus *events.Bus, s *store.Store, status func() map[string]any, logger *slog.Logger) (*Notifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	logger.Info("telegram bot connected", "username", api.Self.UserName)
	return &Notifier{
		bot:           api,
		api:           api,
		chatID:        chatID,
		bus:           bus,
		store:         s,
		status:        status,
		logger:        logger,
		flushInterval: defaultFlushInterval,
	}, nil
}

// Username is the bot's public username, used for pairing links.
// Empty when the notifier was built without a live API connection.
func (n *Notifier) Username() string {
	if n.api == nil {
		return ""
	}
	return n.api.Self.UserName
}

// Run consumes bus notifications and bot commands until the context
// is cancelled. Queued fyi items are flushed on exit.
func (n *Notifier) Run(ctx context.Context) {
	notifications := n.bus.Subscribe(events.TopicNotification, 64)
	ticker := time.NewTicker(n.flushInterval)
	defer ticker.Stop()

	var updates tgbotapi.UpdatesChannel
	if n.api != nil {
		cfg := tgbotapi.NewUpdate(0)
		cfg.Timeout = 30
		updates = n.api.GetUpdatesChan(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			n.flushFYI()
			return
		case ev, ok := <-notifications:
			if !ok {
				return
			}
			n.handleNotification(ev)
		case <-ticker.C:
			n.flushFYI()
		case update, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			n.handleUpdate(update)
		}
	}
}

func (n *Notifier) handleNotification(ev events.Event) {
	level, _ := ev.Data["level"].(string)
	title, _ := ev.Data["title"].(string)
	message, _ := ev.Data["message"].(string)

	switch level {
	case "critical", "important":
		prefix := "ℹ️"
		if level == "critical" {
			prefix = "🚨"
		}
		n.send(fmt.Sprintf("%s *%s*\n%s", prefix, title, message))
	case "fyi":
		n.mu.Lock()
		if len(n.fyiQueue) < maxBatchedFYI {
			n.fyiQueue = append(n.fyiQueue, fmt.Sprintf("• %s — %s", title, firstLine(message)))
		}
		full := len(n.fyiQueue) >= maxBatchedFYI
		n.mu.Unlock()
		if full {
			n.flushFYI()
		}
	}
}

// flushFYI sends the queued low-priority items as one digest.
func (n *Notifier) flushFYI() {
	n.mu.Lock()
	queue := n.fyiQueue
	n.fyiQueue = nil
	n.mu.Unlock()
	if len(queue) == 0 {
		return
	}
	n.send("📋 *While you were away*\n" + strings.Join(queue, "\n"))
}

func (n *Notifier) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil || update.Message.Chat == nil {
		return
	}
	if n.chatID != 0 && update.Message.Chat.ID != n.chatID {
		return // only the configured chat may command the daemon
	}

	switch update.Message.Command() {
	case "status":
		n.send(n.statusText())
	case "briefing":
		n.send(n.briefingText())
	}
}

func (n *Notifier) statusText() string {
	if n.status == nil {
		return "Omnibrain is running."
	}
	var b strings.Builder
	b.WriteString("*Omnibrain status*\n")
	for k, v := range n.status() {
		fmt.Fprintf(&b, "%s: %v\n", k, v)
	}
	return b.String()
}

func (n *Notifier) briefingText() string {
	for _, briefingType := range []string{store.BriefingMorning, store.BriefingEvening, store.BriefingWeekly} {
		b, err := n.store.LatestBriefing(briefingType)
		if err == nil && b != nil && b.Date == time.Now().Format("2006-01-02") {
			return b.Content
		}
	}
	return "No briefing generated today yet."
}

func (n *Notifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Warn("telegram send failed", "error", err)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
