package telegram

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/omnibrain/omnibrain/internal/events"
	"github.com/omnibrain/omnibrain/internal/store"
)

type fakeSender struct {
	sent []string
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg.Text)
	}
	return tgbotapi.Message{}, nil
}

func newTestNotifier(t *testing.T) (*Notifier, *fakeSender, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := store.New(filepath.Join(t.TempDir(), "tg_test.db"), logger)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	f := &fakeSender{}
	return &Notifier{
		bot:           f,
		chatID:        42,
		bus:           events.New(),
		store:         s,
		logger:        logger,
		flushInterval: time.Hour,
	}, f, s
}

func notificationEvent(level, title, message string) events.Event {
	return events.Event{
		Topic: events.TopicNotification,
		Data:  map[string]any{"level": level, "title": title, "message": message},
	}
}

func TestImportantSentImmediately(t *testing.T) {
	n, f, _ := newTestNotifier(t)

	n.handleNotification(notificationEvent("important", "Meeting soon", "Standup in 15 minutes"))
	n.handleNotification(notificationEvent("critical", "Server down", "API unreachable"))

	if len(f.sent) != 2 {
		t.Fatalf("sent = %d messages, want 2", len(f.sent))
	}
	if !strings.Contains(f.sent[0], "Meeting soon") {
		t.Errorf("message = %q", f.sent[0])
	}
	if !strings.Contains(f.sent[1], "🚨") {
		t.Errorf("critical message lacks marker: %q", f.sent[1])
	}
}

func TestFYIBatchedUntilFlush(t *testing.T) {
	n, f, _ := newTestNotifier(t)

	n.handleNotification(notificationEvent("fyi", "New email", "Newsletter"))
	n.handleNotification(notificationEvent("fyi", "New email", "Receipt"))
	if len(f.sent) != 0 {
		t.Fatalf("fyi sent immediately: %v", f.sent)
	}

	n.flushFYI()
	if len(f.sent) != 1 {
		t.Fatalf("digest count = %d, want 1", len(f.sent))
	}
	if !strings.Contains(f.sent[0], "Newsletter") || !strings.Contains(f.sent[0], "Receipt") {
		t.Errorf("digest = %q", f.sent[0])
	}

	// Flushing an empty queue sends nothing.
	n.flushFYI()
	if len(f.sent) != 1 {
		t.Error("empty flush produced a message")
	}
}

func TestSilentLevelIgnored(t *testing.T) {
	n, f, _ := newTestNotifier(t)
	n.handleNotification(notificationEvent("silent", "noise", "ignored"))
	n.flushFYI()
	if len(f.sent) != 0 {
		t.Errorf("silent notification delivered: %v", f.sent)
	}
}

func TestCommandsAnswerOnlyConfiguredChat(t *testing.T) {
	n, f, s := newTestNotifier(t)
	s.InsertBriefing(&store.Briefing{
		Date: time.Now().Format("2006-01-02"), Type: store.BriefingMorning, Content: "Quiet day ahead.",
	})

	update := func(chatID int64, text string) tgbotapi.Update {
		return tgbotapi.Update{Message: &tgbotapi.Message{
			Text:     text,
			Chat:     &tgbotapi.Chat{ID: chatID},
			Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
		}}
	}

	n.handleUpdate(update(99, "/briefing")) // wrong chat
	if len(f.sent) != 0 {
		t.Fatalf("foreign chat answered: %v", f.sent)
	}

	n.handleUpdate(update(42, "/briefing"))
	if len(f.sent) != 1 || !strings.Contains(f.sent[0], "Quiet day ahead.") {
		t.Errorf("briefing reply = %v", f.sent)
	}

	n.handleUpdate(update(42, "/status"))
	if len(f.sent) != 2 || !strings.Contains(f.sent[1], "running") {
		t.Errorf("status reply = %v", f.sent)
	}
}
