package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/omnibrain/omnibrain/internal/config"
)

// Router fronts the active provider, fills in request defaults, and
// fires the post-call hook with usage totals after every call.
type Router struct {
	provider    Provider
	model       string
	maxTokens   int
	temperature float32
	logger      *slog.Logger

	mu   sync.RWMutex
	hook Hook
}

// NewRouter wraps a provider with a default model.
func NewRouter(p Provider, model string, logger *slog.Logger) *Router {
	return &Router{provider: p, model: model, maxTokens: 4096, logger: logger}
}

// NewRouterFromConfig picks the provider from the config: an explicit
// provider name wins, otherwise the first configured API key in the
// order deepseek, openai, anthropic. Returns an error when no key is
// available.
func NewRouterFromConfig(cfg config.LLMConfig, logger *slog.Logger) (*Router, error) {
	var p Provider
	switch cfg.Provider {
	case "deepseek":
		p = NewDeepSeekProvider(cfg.DeepSeekAPIKey, cfg.BaseURL, logger)
	case "openai":
		p = NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.BaseURL, logger)
	case "anthropic":
		p = NewAnthropicProvider(cfg.AnthropicAPIKey, logger)
	case "":
		switch {
		case cfg.DeepSeekAPIKey != "":
			p = NewDeepSeekProvider(cfg.DeepSeekAPIKey, cfg.BaseURL, logger)
		case cfg.OpenAIAPIKey != "":
			p = NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.BaseURL, logger)
		case cfg.AnthropicAPIKey != "":
			p = NewAnthropicProvider(cfg.AnthropicAPIKey, logger)
		default:
			return nil, fmt.Errorf("no LLM API key configured")
		}
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}

	model := cfg.Model
	if model == "" {
		model = defaultModelFor(p.Name())
	}
	r := NewRouter(p, model, logger)
	if cfg.MaxTokens > 0 {
		r.maxTokens = cfg.MaxTokens
	}
	r.temperature = cfg.Temperature
	return r, nil
}

func defaultModelFor(provider string) string {
	switch provider {
	case "deepseek":
		return "deepseek-chat"
	case "openai":
		return "gpt-4o-mini"
	case "anthropic":
		return "claude-sonnet-4-5"
	default:
		return ""
	}
}

// Provider returns the active provider name.
func (r *Router) Provider() string { return r.provider.Name() }

// Model returns the default model.
func (r *Router) Model() string { return r.model }

// SetHook installs the post-call observer. Passing nil removes it.
func (r *Router) SetHook(h Hook) {
	r.mu.Lock()
	r.hook = h
	r.mu.Unlock()
}

func (r *Router) fireHook(u Usage) {
	r.mu.RLock()
	h := r.hook
	r.mu.RUnlock()
	if h != nil {
		h(u)
	}
}

func (r *Router) fill(req *Request) {
	if req.Model == "" {
		req.Model = r.model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = r.maxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = r.temperature
	}
}

// Chat sends a non-streaming request through the active provider.
func (r *Router) Chat(ctx context.Context, req Request) (*Response, error) {
	r.fill(&req)
	start := time.Now()
	resp, err := r.provider.Chat(ctx, req)
	r.fireHook(callUsage(r.provider.Name(), req, resp, err, start))
	if err != nil {
		return nil, fmt.Errorf("%s chat: %w", r.provider.Name(), err)
	}
	return resp, nil
}

// ChatStream streams a request through the active provider.
func (r *Router) ChatStream(ctx context.Context, req Request, cb StreamCallback) (*Response, error) {
	r.fill(&req)
	start := time.Now()
	resp, err := r.provider.ChatStream(ctx, req, cb)
	r.fireHook(callUsage(r.provider.Name(), req, resp, err, start))
	if err != nil {
		return nil, fmt.Errorf("%s stream: %w", r.provider.Name(), err)
	}
	return resp, nil
}

func callUsage(provider string, req Request, resp *Response, err error, start time.Time) Usage {
	u := Usage{
		Provider:   provider,
		Model:      req.Model,
		Source:     req.Source,
		DurationMS: time.Since(start).Milliseconds(),
		Success:    err == nil,
	}
	if resp != nil {
		u.InputTokens = resp.Usage.InputTokens
		u.OutputTokens = resp.Usage.OutputTokens
		u.CacheReadTokens = resp.Usage.CacheReadTokens
		u.CacheCreationTokens = resp.Usage.CacheCreationTokens
	}
	if err != nil {
		u.Error = err.Error()
	}
	return u
}
