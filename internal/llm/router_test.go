package llm

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/omnibrain/omnibrain/internal/config"
)

type fakeProvider struct {
	name    string
	content string
	usage   Usage
	err     error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &Response{Content: f.content, Usage: f.usage}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req Request, cb StreamCallback) (*Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, r := range f.content {
		if cb != nil {
			cb(string(r))
		}
	}
	return &Response{Content: f.content, Usage: f.usage}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRouterFiresHookOnSuccess(t *testing.T) {
	p := &fakeProvider{name: "fake", content: "hi", usage: Usage{InputTokens: 10, OutputTokens: 2}}
	r := NewRouter(p, "fake-model", testLogger())

	var got Usage
	r.SetHook(func(u Usage) { got = u })

	resp, err := r.Chat(context.Background(), Request{Source: "chat", Messages: []Message{{Role: "user", Content: "hello"}}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hi" {
		t.Errorf("content = %q", resp.Content)
	}
	if !got.Success || got.InputTokens != 10 || got.Model != "fake-model" || got.Source != "chat" {
		t.Errorf("hook usage = %+v", got)
	}
}

func TestRouterFiresHookOnError(t *testing.T) {
	p := &fakeProvider{name: "fake", err: errors.New("boom")}
	r := NewRouter(p, "fake-model", testLogger())

	var got Usage
	r.SetHook(func(u Usage) { got = u })

	if _, err := r.Chat(context.Background(), Request{}); err == nil {
		t.Fatal("expected error")
	}
	if got.Success || got.Error == "" {
		t.Errorf("hook usage on error = %+v", got)
	}
}

func TestRouterStreamDeliversTokens(t *testing.T) {
	p := &fakeProvider{name: "fake", content: "abc"}
	r := NewRouter(p, "fake-model", testLogger())

	var tokens []string
	resp, err := r.ChatStream(context.Background(), Request{}, func(tok string) {
		tokens = append(tokens, tok)
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if len(tokens) != 3 || resp.Content != "abc" {
		t.Errorf("tokens = %v, content = %q", tokens, resp.Content)
	}
}

func TestRouterDefaultsFilled(t *testing.T) {
	p := &fakeProvider{name: "fake"}
	r := NewRouter(p, "fake-model", testLogger())
	r.maxTokens = 1024

	var seen Usage
	r.SetHook(func(u Usage) { seen = u })
	r.Chat(context.Background(), Request{})
	if seen.Model != "fake-model" {
		t.Errorf("default model not applied: %+v", seen)
	}
}

func TestProviderSelectionOrder(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LLMConfig
		want string
	}{
		{"deepseek wins", config.LLMConfig{DeepSeekAPIKey: "a", OpenAIAPIKey: "b", AnthropicAPIKey: "c"}, "deepseek"},
		{"openai second", config.LLMConfig{OpenAIAPIKey: "b", AnthropicAPIKey: "c"}, "openai"},
		{"anthropic last", config.LLMConfig{AnthropicAPIKey: "c"}, "anthropic"},
		{"explicit override", config.LLMConfig{Provider: "anthropic", DeepSeekAPIKey: "a", AnthropicAPIKey: "c"}, "anthropic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRouterFromConfig(tt.cfg, testLogger())
			if err != nil {
				t.Fatalf("NewRouterFromConfig: %v", err)
			}
			if r.Provider() != tt.want {
				t.Errorf("provider = %q, want %q", r.Provider(), tt.want)
			}
		})
	}

	if _, err := NewRouterFromConfig(config.LLMConfig{}, testLogger()); err == nil {
		t.Error("no API key should be an error")
	}
}
