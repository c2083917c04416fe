package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/omnibrain/omnibrain/internal/events"
	"github.com/omnibrain/omnibrain/internal/store"
)

// Runtime discovers installed skills and drives their handlers: poll
// triggers on schedules, event triggers off the bus, ask handlers on
// demand from the chat bridge.
type Runtime struct {
	dirs    []string
	store   *store.Store
	bus     *events.Bus // may be nil
	sandbox *Sandbox
	logger  *slog.Logger

	mu       sync.Mutex
	skills   map[string]*Manifest
	lastPoll map[string]time.Time
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewRuntime creates the runtime scanning the given directories.
func NewRuntime(dirs []string, s *store.Store, bus *events.Bus, deps GatewayDeps, logger *slog.Logger) *Runtime {
	return &Runtime{
		dirs:     dirs,
		store:    s,
		bus:      bus,
		sandbox:  NewSandbox(deps, logger),
		logger:   logger,
		skills:   make(map[string]*Manifest),
		lastPoll: make(map[string]time.Time),
		stop:     make(chan struct{}),
	}
}

// Tune forwards interpreter and timeout overrides to the sandbox.
func (r *Runtime) Tune(python string, timeout time.Duration) {
	r.sandbox.Tune(python, timeout)
}

// Discover scans the skill directories, loads manifests, and
// registers new skills in the store. Broken manifests are logged and
// skipped.
func (r *Runtime) Discover(ctx context.Context) error {
	found := 0
	for _, dir := range r.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				r.logger.Warn("skill dir unreadable", "dir", dir, "error", err)
			}
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			manifestPath := filepath.Join(dir, e.Name(), "skill.yaml")
			if _, err := os.Stat(manifestPath); err != nil {
				continue
			}
			m, err := LoadManifest(manifestPath)
			if err != nil {
				r.logger.Warn("skill manifest rejected", "path", manifestPath, "error", err)
				continue
			}
			if err := r.register(m); err != nil {
				r.logger.Warn("skill registration failed", "skill", m.Name, "error", err)
				continue
			}
			found++
		}
	}
	r.logger.Info("skill discovery complete", "skills", found)
	return nil
}

func (r *Runtime) register(m *Manifest) error {
	if err := r.store.RegisterSkill(&store.InstalledSkill{
		Name:        m.Name,
		Version:     m.Version,
		Description: m.Description,
		Author:      m.Author,
		Category:    m.Category,
		Permissions: m.Permissions,
		Enabled:     true,
	}); err != nil {
		return err
	}
	r.mu.Lock()
	r.skills[m.Name] = m
	r.mu.Unlock()
	return nil
}

// Start wires poll schedules and event subscriptions, then blocks
// until the context is cancelled.
func (r *Runtime) Start(ctx context.Context) {
	r.startEventHandlers(ctx)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Stop()
			return
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.pollDue(ctx, now)
		}
	}
}

// Stop signals shutdown and waits for in-flight handlers.
func (r *Runtime) Stop() {
	r.mu.Lock()
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Skills lists the loaded manifests.
func (r *Runtime) Skills() []*Manifest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Manifest, 0, len(r.skills))
	for _, m := range r.skills {
		out = append(out, m)
	}
	return out
}

func (r *Runtime) pollDue(ctx context.Context, now time.Time) {
	r.mu.Lock()
	var due []*Manifest
	for name, m := range r.skills {
		if m.Handlers.Poll == "" || !r.enabled(name) {
			continue
		}
		if r.pollTriggerDue(m, r.lastPoll[name], now) {
			r.lastPoll[name] = now
			due = append(due, m)
		}
	}
	r.mu.Unlock()

	for _, m := range due {
		r.wg.Add(1)
		go func(m *Manifest) {
			defer r.wg.Done()
			if _, err := r.sandbox.Invoke(ctx, m, m.Handlers.Poll, "handle", nil, nil); err != nil {
				r.logger.Warn("skill poll failed", "skill", m.Name, "error", err)
			}
		}(m)
	}
}

func (r *Runtime) pollTriggerDue(m *Manifest, last, now time.Time) bool {
	for _, t := range m.Triggers {
		switch t.Type {
		case "interval":
			d, err := time.ParseDuration(t.Spec)
			if err != nil || d <= 0 {
				continue
			}
			if now.Sub(last) >= d {
				return true
			}
		case "cron":
			sched, err := cron.ParseStandard(t.Spec)
			if err != nil {
				continue
			}
			if last.IsZero() {
				last = now.Add(-2 * time.Minute)
			}
			if !sched.Next(last).After(now) {
				return true
			}
		}
	}
	return false
}

func (r *Runtime) startEventHandlers(ctx context.Context) {
	if r.bus == nil {
		return
	}
	for _, m := range r.Skills() {
		if m.Handlers.Event == "" {
			continue
		}
		for _, t := range m.Triggers {
			if t.Type != "event" {
				continue
			}
			ch := r.bus.Subscribe(t.Spec, 16)
			r.wg.Add(1)
			go func(m *Manifest, topic string, ch <-chan events.Event) {
				defer r.wg.Done()
				for {
					select {
					case <-ctx.Done():
						return
					case <-r.stop:
						return
					case ev, ok := <-ch:
						if !ok {
							return
						}
						if !r.enabled(m.Name) {
							continue
						}
						kwargs := map[string]any{"topic": ev.Topic}
						for k, v := range ev.Data {
							kwargs[k] = v
						}
						if _, err := r.sandbox.Invoke(ctx, m, m.Handlers.Event, "handle", nil, kwargs); err != nil {
							r.logger.Warn("skill event handler failed",
								"skill", m.Name, "topic", topic, "error", err)
						}
					}
				}
			}(m, t.Spec, ch)
		}
	}
}

// Ask runs the ask handlers of skills whose keywords match the
// message and returns their outputs joined, for injection into the
// chat context.
func (r *Runtime) Ask(ctx context.Context, message string) string {
	var parts []string
	for _, m := range r.Skills() {
		if m.Handlers.Ask == "" || !r.enabled(m.Name) || !matchAsk(m, message) {
			continue
		}
		result, err := r.sandbox.Invoke(ctx, m, m.Handlers.Ask, "handle", []any{message}, nil)
		if err != nil {
			r.logger.Warn("skill ask failed", "skill", m.Name, "error", err)
			continue
		}
		if s, ok := result.(string); ok && s != "" {
			parts = append(parts, fmt.Sprintf("[%s] %s", m.Name, s))
		}
	}
	return strings.Join(parts, "\n")
}

// matchAsk is the mention heuristic: skill name or any declared ask
// keyword appears in the message.
func matchAsk(m *Manifest, message string) bool {
	lower := strings.ToLower(message)
	if strings.Contains(lower, strings.ToLower(m.Name)) {
		return true
	}
	for _, kw := range m.AskKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func (r *Runtime) enabled(name string) bool {
	sk, err := r.store.GetSkill(name)
	if err != nil || sk == nil {
		return false
	}
	return sk.Enabled
}
