package agent

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/omnibrain/omnibrain/internal/config"
	"github.com/omnibrain/omnibrain/internal/llm"
)

// chatCompletionServer fakes an OpenAI-compatible streaming endpoint
// returning two tokens and a usage chunk.
func chatCompletionServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"choices":[{"delta":{"content":"Hello"}}]}`,
			`{"choices":[{"delta":{"content":" there"}}]}`,
			`{"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":2,"total_tokens":14}}`,
		}
		for _, c := range chunks {
			w.Write([]byte("data: " + c + "\n\n"))
		}
		w.Write([]byte("data: [DONE]\n\n"))
	}))
}

func newTestAgent(t *testing.T, baseURL string) *Agent {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	router, err := llm.NewRouterFromConfig(config.LLMConfig{
		Provider:       "deepseek",
		DeepSeekAPIKey: "test-key",
		BaseURL:        baseURL,
		Model:          "deepseek-chat",
	}, logger)
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	return New(router, nil, "You are a helpful assistant.", nil, logger)
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-deadline:
			t.Fatalf("timed out; events so far: %+v", out)
		}
	}
}

func TestRunEmitsTextUsageDone(t *testing.T) {
	srv := chatCompletionServer(t)
	defer srv.Close()
	a := newTestAgent(t, srv.URL+"/v1")

	events := collect(t, a.Run(context.Background(), "hi", ""))

	var text strings.Builder
	var sawUsage, sawDone bool
	for _, e := range events {
		switch e.Kind {
		case KindText:
			text.WriteString(e.Text)
		case KindUsage:
			sawUsage = true
			if e.Usage.InputTokens != 12 {
				t.Errorf("usage = %+v", e.Usage)
			}
		case KindDone:
			sawDone = true
		}
	}
	if text.String() != "Hello there" {
		t.Errorf("text = %q", text.String())
	}
	if !sawUsage || !sawDone {
		t.Errorf("events missing usage/done: %+v", events)
	}
	if events[len(events)-1].Kind != KindDone {
		t.Errorf("last event = %v, want done", events[len(events)-1].Kind)
	}
}

func TestRunErrorStillTerminates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()
	a := newTestAgent(t, srv.URL+"/v1")

	events := collect(t, a.Run(context.Background(), "hi", ""))

	var sawError, sawDone bool
	for _, e := range events {
		if e.Kind == KindError {
			sawError = true
		}
		if e.Kind == KindDone {
			sawDone = true
		}
	}
	if !sawError || !sawDone {
		t.Errorf("events = %+v, want error then done", events)
	}
}

func TestHistoryTrimmed(t *testing.T) {
	srv := chatCompletionServer(t)
	defer srv.Close()
	a := newTestAgent(t, srv.URL+"/v1")
	a.maxHistory = 4

	for range 5 {
		collect(t, a.Run(context.Background(), "hi", ""))
	}
	if len(a.history) != 4 {
		t.Errorf("history = %d entries, want 4", len(a.history))
	}
}

func TestApprovalGateResolve(t *testing.T) {
	g := NewApprovalGate(time.Second)

	type result struct {
		approved bool
		err      error
	}
	done := make(chan result, 1)
	go func() {
		_, approved, err := g.Request(context.Background(), "send email to anna")
		done <- result{approved, err}
	}()
	go func() {
		// Wait for the request to register before resolving.
		for len(g.Pending()) == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		if !g.Resolve(g.Pending()[0], true) {
			t.Error("Resolve returned false for pending id")
		}
	}()

	select {
	case r := <-done:
		if r.err != nil || !r.approved {
			t.Errorf("Request = (%v, %v), want approved", r.approved, r.err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("approval flow timed out")
	}
}

func TestApprovalGateTimeout(t *testing.T) {
	g := NewApprovalGate(50 * time.Millisecond)
	_, approved, err := g.Request(context.Background(), "risky action")
	if err == nil || approved {
		t.Errorf("Request = (%v, %v), want timeout rejection", approved, err)
	}
}

func TestResolveUnknownID(t *testing.T) {
	g := NewApprovalGate(time.Second)
	if g.Resolve("nope", true) {
		t.Error("Resolve of unknown id returned true")
	}
}

func TestStripReasoning(t *testing.T) {
	in := strings.Join([]string{
		"Now I need to check the calendar.",
		"Your next meeting is at 15:00.",
		"Phase 2: draft the reply",
		"[FINDING: user prefers mornings]",
		"I've completed Phase 3 of the plan.",
		"Shall I book the room?",
	}, "\n")

	got := StripReasoning(in)
	want := "Your next meeting is at 15:00.\nShall I book the room?"
	if got != want {
		t.Errorf("StripReasoning = %q, want %q", got, want)
	}
}

func TestIsReasoning(t *testing.T) {
	if !IsReasoning("Now I need to search the inbox\nPhase 1: scan") {
		t.Error("pure reasoning snippet not detected")
	}
	if IsReasoning("Your meeting is at 15:00.\nThe room is booked.") {
		t.Error("normal snippet flagged as reasoning")
	}
}
