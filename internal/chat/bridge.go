// Package chat is the bridge between a chat transport (SSE endpoint,
// Telegram) and the agent: it persists the conversation, screens
// incoming text, assembles the live context block, and translates
// agent events into wire frames.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/omnibrain/omnibrain/internal/agent"
	"github.com/omnibrain/omnibrain/internal/extract"
	"github.com/omnibrain/omnibrain/internal/llm"
	"github.com/omnibrain/omnibrain/internal/memory"
	"github.com/omnibrain/omnibrain/internal/patterns"
	"github.com/omnibrain/omnibrain/internal/sanitize"
	"github.com/omnibrain/omnibrain/internal/store"
	"github.com/omnibrain/omnibrain/internal/tracker"
)

const (
	maxCachedAgents  = 20
	rehydrateHistory = 20

	// Per-token cost counters kept in preferences, keyed by month.
	costPerInputToken  = 0.00014 / 1000
	costPerOutputToken = 0.00028 / 1000
)

const systemPrompt = `You are Omnibrain, a personal AI assistant with persistent memory of the user's email, calendar, contacts, and past conversations. Be direct and concise. When the context block below contains relevant facts, use them; never invent events, people, or messages that are not in it.`

// Frame is one wire message of a chat stream.
type Frame struct {
	Type      string     `json:"type"`
	Content   string     `json:"content,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Tool      string     `json:"tool,omitempty"`
	Result    string     `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	Usage     *llm.Usage `json:"usage,omitempty"`
}

// Bridge owns the session-to-agent cache and the chat pipeline. All
// collaborators except store, router, and sanitizer may be nil.
type Bridge struct {
	store     *store.Store
	router    *llm.Router
	memory    *memory.Memory
	tracker   *tracker.Tracker
	detector  *patterns.Detector
	extractor *extract.Extractor
	sanitizer *sanitize.Sanitizer
	gate      *agent.ApprovalGate
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	agents map[string]*agent.Agent
	order  []string // session ids, least recently used first
}

// Options carries the optional collaborators.
type Options struct {
	Memory    *memory.Memory
	Tracker   *tracker.Tracker
	Detector  *patterns.Detector
	Extractor *extract.Extractor
	Gate      *agent.ApprovalGate
}

// New creates the bridge.
func New(s *store.Store, router *llm.Router, opts Options, logger *slog.Logger) *Bridge {
	return &Bridge{
		store:     s,
		router:    router,
		memory:    opts.Memory,
		tracker:   opts.Tracker,
		detector:  opts.Detector,
		extractor: opts.Extractor,
		sanitizer: sanitize.New(),
		gate:      opts.Gate,
		logger:    logger,
		now:       time.Now,
		agents:    make(map[string]*agent.Agent),
	}
}

// Gate exposes the approval gate for the API layer. May be nil.
func (b *Bridge) Gate() *agent.ApprovalGate { return b.gate }

// Stream runs one chat turn and emits wire frames. The channel closes
// after the terminal done frame (which carries the session id).
func (b *Bridge) Stream(ctx context.Context, sessionID, message string) <-chan Frame {
	frames := make(chan Frame, 32)

	go func() {
		defer close(frames)

		emit := func(f Frame) {
			select {
			case frames <- f:
			case <-ctx.Done():
			}
		}
		finish := func() {
			emit(Frame{Type: "done", SessionID: sessionID})
		}

		if _, err := b.store.InsertChatMessage(&store.ChatMessage{
			SessionID: sessionID, Role: "user", Content: message,
		}); err != nil {
			b.logger.Warn("user message not persisted", "session", sessionID, "error", err)
		}

		verdict := b.sanitizer.Scan(message)
		if verdict.Blocked {
			b.logger.Warn("message blocked",
				"session", sessionID, "score", verdict.ThreatScore, "reason", verdict.Reason)
			emit(Frame{Type: "error", Error: "Message rejected: " + verdict.Reason})
			finish()
			return
		}
		if verdict.Warned {
			b.logger.Info("message cleaned", "session", sessionID, "reason", verdict.Reason)
			message = verdict.SafeText
		}

		liveContext := b.buildLiveContext(ctx, message)
		ag := b.agentFor(sessionID)

		var assistant strings.Builder
		var usage *llm.Usage
		for ev := range ag.Run(ctx, message, liveContext) {
			switch ev.Kind {
			case agent.KindText:
				assistant.WriteString(ev.Text)
				emit(Frame{Type: "token", Content: ev.Text})
			case agent.KindToolStart:
				emit(Frame{Type: "tool_start", Tool: ev.ToolName})
			case agent.KindToolEnd:
				emit(Frame{Type: "tool_end", Tool: ev.ToolName, Result: ev.ToolResult, Error: ev.ToolError})
			case agent.KindPlanGenerated:
				emit(Frame{Type: "plan", Content: ev.Text})
			case agent.KindFinding:
				emit(Frame{Type: "finding", Content: ev.Text})
			case agent.KindUsage:
				usage = ev.Usage
				emit(Frame{Type: "usage", Usage: ev.Usage})
			case agent.KindError:
				emit(Frame{Type: "error", Error: ev.Text})
			case agent.KindPaused:
				emit(Frame{Type: "paused", SessionID: sessionID})
				return
			case agent.KindDone:
				// Terminal frame goes out after post-processing.
			}
		}

		b.postProcess(sessionID, message, assistant.String(), usage, ag.ToolsUsed())
		finish()
	}()

	return frames
}

// agentFor returns the cached agent for the session, creating it with
// rehydrated history and evicting the least recently used entry past
// the cap.
func (b *Bridge) agentFor(sessionID string) *agent.Agent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ag, ok := b.agents[sessionID]; ok {
		b.markUsed(sessionID)
		return ag
	}

	var history []agent.Message
	msgs, err := b.store.GetChatMessages(sessionID, rehydrateHistory)
	if err != nil {
		b.logger.Warn("history rehydration failed", "session", sessionID, "error", err)
	}
	for _, m := range msgs {
		if m.Role == "user" || m.Role == "assistant" {
			history = append(history, agent.Message{Role: m.Role, Content: m.Content})
		}
	}

	ag := agent.New(b.router, b.gate, systemPrompt, history, b.logger)
	b.agents[sessionID] = ag
	b.order = append(b.order, sessionID)
	if len(b.order) > maxCachedAgents {
		evicted := b.order[0]
		b.order = b.order[1:]
		delete(b.agents, evicted)
		b.logger.Debug("agent evicted", "session", evicted)
	}
	return ag
}

func (b *Bridge) markUsed(sessionID string) {
	for i, id := range b.order {
		if id == sessionID {
			b.order = append(append(b.order[:i:i], b.order[i+1:]...), sessionID)
			return
		}
	}
}

// postProcess runs the best-effort bookkeeping after a completed turn.
// Every step tolerates failure independently.
func (b *Bridge) postProcess(sessionID, userMsg, assistantMsg string, usage *llm.Usage, toolsUsed int) {
	if assistantMsg == "" {
		return
	}

	if _, err := b.store.InsertChatMessage(&store.ChatMessage{
		SessionID: sessionID, Role: "assistant", Content: assistantMsg,
	}); err != nil {
		b.logger.Warn("assistant message not persisted", "session", sessionID, "error", err)
	}

	cleaned := agent.StripReasoning(assistantMsg)
	if b.memory != nil && cleaned != "" {
		bg, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := b.memory.Store(bg, memory.Input{
			Text:       "User: " + userMsg + "\nAssistant: " + cleaned,
			Source:     memory.SourceChat,
			SourceType: "conversation",
			Timestamp:  b.now().UTC(),
			Metadata:   map[string]any{"session_id": sessionID},
		})
		cancel()
		if err != nil {
			b.logger.Warn("exchange not stored in memory", "session", sessionID, "error", err)
		}
	}

	if b.detector != nil {
		desc := userMsg
		if len(desc) > 100 {
			desc = desc[:100]
		}
		if _, err := b.detector.ObserveAction("chat", map[string]any{"query": "User asked: " + desc}); err != nil {
			b.logger.Warn("chat action not observed", "error", err)
		}
	}

	if b.extractor != nil && toolsUsed == 0 {
		go func() {
			bg, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			events, contacts, err := b.extractor.FromExchange(bg, userMsg, assistantMsg)
			if err != nil {
				b.logger.Debug("conversation extraction failed", "session", sessionID, "error", err)
				return
			}
			if events+contacts > 0 {
				b.logger.Info("conversation extracted",
					"session", sessionID, "events", events, "contacts", contacts)
			}
		}()
	}

	if usage != nil {
		b.recordCost(usage)
	}
}

// recordCost bumps the monthly spend counters kept as preferences.
func (b *Bridge) recordCost(usage *llm.Usage) {
	month := b.now().UTC().Format("2006-01")
	cost := float64(usage.InputTokens)*costPerInputToken + float64(usage.OutputTokens)*costPerOutputToken
	if _, err := b.store.AddPreferenceFloat("chat.cost."+month, cost, "chat"); err != nil {
		b.logger.Warn("cost counter not updated", "error", err)
	}
	if _, err := b.store.AddPreferenceFloat("chat.tokens."+month,
		float64(usage.InputTokens+usage.OutputTokens), "chat"); err != nil {
		b.logger.Warn("token counter not updated", "error", err)
	}
}
