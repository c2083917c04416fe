package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider speaks the Anthropic Messages API through the
// official SDK.
type AnthropicProvider struct {
	client anthropic.Client
	logger *slog.Logger
}

// NewAnthropicProvider creates the provider.
func NewAnthropicProvider(apiKey string, logger *slog.Logger) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		logger: logger.With("provider", "anthropic"),
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) buildParams(req Request) anthropic.MessageNewParams {
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params
}

// Chat sends a blocking request.
func (p *AnthropicProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	msg, err := p.client.Messages.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}

	var content strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	return &Response{
		Content: content.String(),
		Usage:   anthropicUsage(msg.Model, msg.Usage),
	}, nil
}

// ChatStream streams text deltas to the callback and accumulates the
// final message for usage accounting.
func (p *AnthropicProvider) ChatStream(ctx context.Context, req Request, cb StreamCallback) (*Response, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.buildParams(req))

	var content strings.Builder
	var acc anthropic.Message
	for stream.Next() {
		event := stream.Current()
		if err := acc.Accumulate(event); err != nil {
			return nil, fmt.Errorf("accumulate event: %w", err)
		}
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				content.WriteString(delta.Text)
				if cb != nil {
					cb(delta.Text)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	return &Response{
		Content: content.String(),
		Usage:   anthropicUsage(acc.Model, acc.Usage),
	}, nil
}

func anthropicUsage(model anthropic.Model, u anthropic.Usage) Usage {
	return Usage{
		Provider:            "anthropic",
		Model:               string(model),
		InputTokens:         int(u.InputTokens),
		OutputTokens:        int(u.OutputTokens),
		CacheReadTokens:     int(u.CacheReadInputTokens),
		CacheCreationTokens: int(u.CacheCreationInputTokens),
		Success:             true,
	}
}
