package llm

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/omnibrain/omnibrain/internal/store"
)

func newTestTransparency(t *testing.T) (*Transparency, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "transparency_test.db"), testLogger())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewTransparency(s, testLogger()), s
}

func TestBeginFinishRecordsCall(t *testing.T) {
	tr, _ := newTestTransparency(t)

	prompt := strings.Repeat("x", 600)
	call := tr.Begin("deepseek", "deepseek-chat", "chat", prompt)
	call.Token("hello ")
	call.Token("world")
	call.Finish(&Usage{InputTokens: 1000, OutputTokens: 500}, nil)

	calls, err := tr.Calls(store.LLMCallFilter{Limit: 10})
	if err != nil {
		t.Fatalf("Calls: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	c := calls[0]
	if !c.Success || c.InputTokens != 1000 || c.OutputTokens != 500 {
		t.Errorf("call = %+v", c)
	}
	if len(c.PromptPreview) != 500 {
		t.Errorf("preview length = %d, want capped at 500", len(c.PromptPreview))
	}
	if c.PromptSize != 600 {
		t.Errorf("prompt size = %d, want 600", c.PromptSize)
	}
	if len(c.PromptHash) != 64 {
		t.Errorf("prompt hash = %q, want sha256 hex", c.PromptHash)
	}
	if c.ResponseSize != len("hello world") {
		t.Errorf("response size = %d", c.ResponseSize)
	}
	if c.CostEstimate <= 0 {
		t.Errorf("cost estimate = %v, want > 0", c.CostEstimate)
	}
}

func TestFinishRecordsFailure(t *testing.T) {
	tr, _ := newTestTransparency(t)

	call := tr.Begin("openai", "gpt-4o-mini", "briefing", "summarize this")
	call.Finish(nil, errors.New("rate limited"))

	calls, err := tr.Calls(store.LLMCallFilter{Limit: 10})
	if err != nil || len(calls) != 1 {
		t.Fatalf("Calls = (%v, %v)", calls, err)
	}
	if calls[0].Success || calls[0].ErrorMessage != "rate limited" {
		t.Errorf("call = %+v", calls[0])
	}
}

func TestHookRecordsTotalsOnly(t *testing.T) {
	tr, _ := newTestTransparency(t)

	hook := tr.Hook()
	hook(Usage{
		Provider: "deepseek", Model: "deepseek-chat", Source: "proactive",
		InputTokens: 200, OutputTokens: 100, DurationMS: 1500, Success: true,
	})

	calls, err := tr.Calls(store.LLMCallFilter{Limit: 10})
	if err != nil || len(calls) != 1 {
		t.Fatalf("Calls = (%v, %v)", calls, err)
	}
	c := calls[0]
	if c.PromptHash != "" || c.PromptPreview != "" {
		t.Errorf("hook path stored prompt data: %+v", c)
	}
	if c.Source != "proactive" || c.InputTokens != 200 {
		t.Errorf("call = %+v", c)
	}
}

func TestStatsAndPruneDelegate(t *testing.T) {
	tr, _ := newTestTransparency(t)
	tr.Hook()(Usage{Provider: "deepseek", Model: "deepseek-chat", InputTokens: 100, OutputTokens: 50, Success: true})

	stats, err := tr.Stats(30)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalCalls != 1 {
		t.Errorf("total calls = %d", stats.TotalCalls)
	}

	if _, err := tr.DailyCosts(7); err != nil {
		t.Errorf("DailyCosts: %v", err)
	}
	if _, err := tr.Prune(30); err != nil {
		t.Errorf("Prune: %v", err)
	}
}
