// Package proactive runs the background task engine: scheduled checks
// that watch email, calendar, and learned patterns, then surface
// notifications without waiting to be asked. Tasks are registered with
// a Trigger and a Handler; a single tick loop polls for due tasks and
// runs each in its own goroutine with single-flight per task name.
package proactive

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/omnibrain/omnibrain/internal/events"
	"github.com/omnibrain/omnibrain/internal/scoring"
)

const (
	defaultTickInterval = time.Minute
	defaultTaskTimeout  = 2 * time.Minute
)

// Notification is what a task hands back for the user. Score drives
// the delivery level through the selector; a preset Level wins over
// the score.
type Notification struct {
	Level   scoring.Level  `json:"level,omitempty"`
	Score   float64        `json:"score,omitempty"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Handler produces notifications for one task run.
type Handler func(ctx context.Context) ([]Notification, error)

// Task is one registered background job.
type Task struct {
	Name    string
	Trigger Trigger
	Handler Handler
	Timeout time.Duration

	LastRun   time.Time
	LastError string
}

// TaskStatus is the read-only view of a task for the status endpoint.
type TaskStatus struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
	Running   bool      `json:"running"`
}

// NotifyFunc receives every notification synchronously, after the
// selector has set its level.
type NotifyFunc func(Notification)

// Engine is the proactive task scheduler.
type Engine struct {
	interval time.Duration
	notify   NotifyFunc
	bus      *events.Bus // may be nil
	selector *scoring.Selector
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	tasks   map[string]*Task
	running map[string]bool
	stopped chan struct{}
	wg      sync.WaitGroup
}

// New creates the engine. notify and bus may be nil; a nil selector
// gets default weights.
func New(selector *scoring.Selector, bus *events.Bus, notify NotifyFunc, logger *slog.Logger) *Engine {
	if selector == nil {
		selector = scoring.NewSelector(nil, nil, 0)
	}
	return &Engine{
		interval: defaultTickInterval,
		notify:   notify,
		bus:      bus,
		selector: selector,
		logger:   logger,
		now:      time.Now,
		tasks:    make(map[string]*Task),
		running:  make(map[string]bool),
		stopped:  make(chan struct{}),
	}
}

// Register adds or replaces a task. A zero Timeout gets the default.
func (e *Engine) Register(t *Task) {
	if t.Name == "" || t.Trigger == nil || t.Handler == nil {
		return
	}
	if t.Timeout <= 0 {
		t.Timeout = defaultTaskTimeout
	}
	e.mu.Lock()
	e.tasks[t.Name] = t
	e.mu.Unlock()
	e.logger.Debug("proactive task registered", "task", t.Name, "schedule", t.Trigger.Describe())
}

// Run ticks until the context is cancelled. Handler errors never stop
// the loop.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("proactive engine started", "tasks", len(e.Status()), "tick", e.interval)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			e.Stop()
			return
		case <-e.stopped:
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// Stop signals the loop to exit and waits for in-flight tasks.
func (e *Engine) Stop() {
	e.mu.Lock()
	select {
	case <-e.stopped:
	default:
		close(e.stopped)
	}
	e.mu.Unlock()
	e.wg.Wait()
	e.logger.Info("proactive engine stopped")
}

// Status lists all tasks sorted by name.
func (e *Engine) Status() []TaskStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]TaskStatus, 0, len(e.tasks))
	for name, t := range e.tasks {
		out = append(out, TaskStatus{
			Name:      name,
			Schedule:  t.Trigger.Describe(),
			LastRun:   t.LastRun,
			LastError: t.LastError,
			Running:   e.running[name],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// tick launches every due, not-already-running task.
func (e *Engine) tick(ctx context.Context) {
	now := e.now()
	e.mu.Lock()
	var due []*Task
	for name, t := range e.tasks {
		if e.running[name] {
			continue
		}
		if t.Trigger.Due(t.LastRun, now) {
			e.running[name] = true
			due = append(due, t)
		}
	}
	e.mu.Unlock()

	for _, t := range due {
		e.wg.Add(1)
		go e.runTask(ctx, t)
	}
}

func (e *Engine) runTask(ctx context.Context, t *Task) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		e.running[t.Name] = false
		e.mu.Unlock()
	}()

	runCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	start := e.now()
	notifications, err := t.Handler(runCtx)

	e.mu.Lock()
	t.LastRun = start
	if err != nil {
		t.LastError = err.Error()
	} else {
		t.LastError = ""
	}
	e.mu.Unlock()

	if err != nil {
		e.logger.Warn("proactive task failed", "task", t.Name, "error", err)
		e.dispatch(Notification{
			Level:   scoring.LevelFYI,
			Title:   fmt.Sprintf("Task %s failed", t.Name),
			Message: err.Error(),
			Data:    map[string]any{"task": t.Name},
		})
		return
	}

	e.logger.Debug("proactive task done",
		"task", t.Name, "notifications", len(notifications),
		"duration", time.Since(start).Round(time.Millisecond))
	for _, n := range notifications {
		e.dispatch(n)
	}
}

// dispatch resolves the level through the selector, then fans out to
// the callback and the bus. Silent notifications are dropped.
func (e *Engine) dispatch(n Notification) {
	if n.Level == "" {
		n.Level = e.selector.ForScore(n.Score)
	}
	if n.Level == scoring.LevelSilent {
		return
	}

	if e.notify != nil {
		e.notify(n)
	}
	data := map[string]any{
		"level":   string(n.Level),
		"title":   n.Title,
		"message": n.Message,
	}
	for k, v := range n.Data {
		data[k] = v
	}
	e.bus.Publish(events.Event{Topic: events.TopicNotification, Source: "proactive", Data: data})
}
