package proactive

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/omnibrain/omnibrain/internal/events"
	"github.com/omnibrain/omnibrain/internal/scoring"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestTriggers(t *testing.T) {
	now := time.Date(2026, 3, 16, 9, 5, 0, 0, time.UTC) // a Monday

	tests := []struct {
		name    string
		trigger Trigger
		last    time.Time
		want    bool
	}{
		{"interval elapsed", Every(time.Hour), now.Add(-2 * time.Hour), true},
		{"interval pending", Every(time.Hour), now.Add(-10 * time.Minute), false},
		{"interval first run", Every(time.Hour), time.Time{}, true},
		{"daily past fire time", Daily("09:00"), now.Add(-24 * time.Hour), true},
		{"daily already ran today", Daily("09:00"), now.Add(-2 * time.Minute), false},
		{"daily before fire time", Daily("23:00"), now.Add(-24 * time.Hour), false},
		{"weekly right day", Weekly("MON 09:00"), now.Add(-7 * 24 * time.Hour), true},
		{"weekly wrong day", Weekly("TUE 09:00"), now.Add(-7 * 24 * time.Hour), false},
		{"weekly already ran", Weekly("MON 09:00"), now.Add(-time.Minute), false},
		{"cron slot inside poll window", Cron("5 9 * * *"), now.Add(-time.Minute), true},
		{"cron slot elsewhere", Cron("0 12 * * *"), now.Add(-time.Minute), false},
		{"cron invalid never fires", Cron("not a cron"), time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.trigger.Due(tt.last, now); got != tt.want {
				t.Errorf("Due(%v, %v) = %v, want %v", tt.last, now, got, tt.want)
			}
		})
	}
}

func TestDueTaskRunsAndNotifies(t *testing.T) {
	var mu sync.Mutex
	var got []Notification
	e := New(nil, nil, func(n Notification) {
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
	}, quietLogger())

	e.Register(&Task{
		Name:    "probe",
		Trigger: Every(time.Millisecond),
		Handler: func(context.Context) ([]Notification, error) {
			return []Notification{{Score: 0.6, Title: "hi", Message: "probe ran"}}, nil
		},
	})

	e.tick(context.Background())
	e.wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("notifications = %d, want 1", len(got))
	}
	if got[0].Level != scoring.LevelImportant {
		t.Errorf("level = %s, want important for score 0.6", got[0].Level)
	}
}

func TestHandlerErrorBecomesFYI(t *testing.T) {
	bus := events.New()
	ch := bus.Subscribe(events.TopicNotification, 8)

	e := New(nil, bus, nil, quietLogger())
	e.Register(&Task{
		Name:    "flaky",
		Trigger: Every(time.Millisecond),
		Handler: func(context.Context) ([]Notification, error) {
			return nil, errors.New("imap timeout")
		},
	})

	e.tick(context.Background())
	e.wg.Wait()

	select {
	case ev := <-ch:
		if ev.Data["level"] != "fyi" {
			t.Errorf("level = %v, want fyi", ev.Data["level"])
		}
	case <-time.After(time.Second):
		t.Fatal("no notification published for failed task")
	}

	status := e.Status()
	if len(status) != 1 || status[0].LastError != "imap timeout" {
		t.Errorf("status = %+v", status)
	}
}

func TestSingleFlightPerTask(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var runs int
	var mu sync.Mutex

	e := New(nil, nil, nil, quietLogger())
	e.Register(&Task{
		Name:    "slow",
		Trigger: Every(time.Millisecond),
		Handler: func(context.Context) ([]Notification, error) {
			mu.Lock()
			runs++
			mu.Unlock()
			close(started)
			<-release
			return nil, nil
		},
	})

	e.tick(context.Background())
	<-started
	// A second tick while the first run is in flight must not start
	// another.
	e.tick(context.Background())
	close(release)
	e.wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if runs != 1 {
		t.Errorf("runs = %d, want 1", runs)
	}
}

func TestSilentDropped(t *testing.T) {
	called := false
	e := New(nil, nil, func(Notification) { called = true }, quietLogger())
	e.dispatch(Notification{Score: 0.05, Title: "noise"})
	if called {
		t.Error("silent notification delivered")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	e := New(nil, nil, nil, quietLogger())
	e.interval = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after cancel")
	}
}
