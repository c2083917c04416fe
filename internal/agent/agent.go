// Package agent runs one conversational turn against the LLM router
// and exposes it as an ordered event stream. The chat bridge consumes
// the stream; planning and tool internals stay behind the Event
// surface.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/omnibrain/omnibrain/internal/llm"
)

// EventKind discriminates Event.
type EventKind string

const (
	KindText          EventKind = "text"
	KindToolStart     EventKind = "tool_start"
	KindToolEnd       EventKind = "tool_end"
	KindPlanGenerated EventKind = "plan_generated"
	KindFinding       EventKind = "finding"
	KindUsage         EventKind = "usage"
	KindError         EventKind = "error"
	KindDone          EventKind = "done"
	KindPaused        EventKind = "paused"
)

// Event is one item of an agent run's output stream.
type Event struct {
	Kind EventKind `json:"kind"`

	// Text carries token content for KindText and the description for
	// plan/finding/error events.
	Text string `json:"text,omitempty"`

	// Tool fields for tool_start/tool_end.
	ToolName   string `json:"tool_name,omitempty"`
	ToolResult string `json:"tool_result,omitempty"`
	ToolError  string `json:"tool_error,omitempty"`

	// Usage is set on KindUsage, once, before done.
	Usage *llm.Usage `json:"usage,omitempty"`
}

// Message is one turn of rehydrated history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Agent holds per-session conversational state: the system prompt,
// the rolling history, and the router it talks through. One agent per
// chat session, cached by the bridge.
type Agent struct {
	router  *llm.Router
	gate    *ApprovalGate // may be nil
	logger  *slog.Logger
	system  string
	history []Message

	maxHistory int
	toolsUsed  int
}

// New creates an agent with a base system prompt and rehydrated
// history. gate may be nil when no approval flow is wired.
func New(router *llm.Router, gate *ApprovalGate, system string, history []Message, logger *slog.Logger) *Agent {
	return &Agent{
		router:     router,
		gate:       gate,
		logger:     logger,
		system:     system,
		history:    history,
		maxHistory: 20,
	}
}

// ToolsUsed reports how many tool invocations the last Run performed.
func (a *Agent) ToolsUsed() int { return a.toolsUsed }

// Run executes one turn. liveContext is appended to the system prompt
// for this call only; events arrive on the returned channel in
// production order and the channel closes after the terminal done,
// paused, or error event.
func (a *Agent) Run(ctx context.Context, message, liveContext string) <-chan Event {
	events := make(chan Event, 32)

	go func() {
		defer close(events)
		a.toolsUsed = 0

		system := a.system
		if liveContext != "" {
			system = system + "\n\n" + liveContext
		}

		msgs := make([]llm.Message, 0, len(a.history)+1)
		for _, m := range a.history {
			msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
		}
		msgs = append(msgs, llm.Message{Role: "user", Content: message})

		emit := func(e Event) bool {
			select {
			case events <- e:
				return true
			case <-ctx.Done():
				return false
			}
		}

		resp, err := a.router.ChatStream(ctx, llm.Request{
			System:   system,
			Messages: msgs,
			Source:   "chat",
		}, func(token string) {
			emit(Event{Kind: KindText, Text: token})
		})
		if err != nil {
			if ctx.Err() != nil {
				emit(Event{Kind: KindPaused})
				return
			}
			emit(Event{Kind: KindError, Text: fmt.Sprintf("model call failed: %v", err)})
			emit(Event{Kind: KindDone})
			return
		}

		a.remember(message, resp.Content)

		usage := resp.Usage
		emit(Event{Kind: KindUsage, Usage: &usage})
		emit(Event{Kind: KindDone})
	}()

	return events
}

// remember appends the exchange to the rolling history, trimming to
// the newest maxHistory turns.
func (a *Agent) remember(user, assistant string) {
	a.history = append(a.history,
		Message{Role: "user", Content: user},
		Message{Role: "assistant", Content: assistant},
	)
	if len(a.history) > a.maxHistory {
		a.history = a.history[len(a.history)-a.maxHistory:]
	}
}
