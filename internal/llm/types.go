// Package llm routes chat requests to the configured provider and
// streams tokens back. Providers normalize wire formats at their
// boundary; everything above this package works with the neutral
// types here.
package llm

import "context"

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Request is a provider-neutral chat request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float32
	// Source tags the transparency record: chat, briefing, extractor,
	// skill:<name>.
	Source string
}

// Usage is the accounting outcome of one call, neutral across
// providers.
type Usage struct {
	Provider            string `json:"provider"`
	Model               string `json:"model"`
	InputTokens         int    `json:"input_tokens"`
	OutputTokens        int    `json:"output_tokens"`
	CacheReadTokens     int    `json:"cache_read_tokens"`
	CacheCreationTokens int    `json:"cache_creation_tokens"`
	DurationMS          int64  `json:"duration_ms"`
	Source              string `json:"source,omitempty"`
	Success             bool   `json:"success"`
	Error               string `json:"error,omitempty"`
}

// Response is the complete answer from a provider.
type Response struct {
	Content string
	Usage   Usage
}

// StreamCallback receives incremental text tokens during ChatStream.
type StreamCallback func(token string)

// Provider is implemented by each LLM backend.
type Provider interface {
	// Name identifies the provider in transparency records.
	Name() string

	// Chat sends a request and waits for the full response.
	Chat(ctx context.Context, req Request) (*Response, error)

	// ChatStream sends a request and delivers tokens to the callback
	// as they arrive. The returned response carries the accumulated
	// content and final usage.
	ChatStream(ctx context.Context, req Request, cb StreamCallback) (*Response, error)
}

// Hook observes completed calls with totals only; it never sees prompt
// or response bodies. Installed by the transparency logger.
type Hook func(usage Usage)
