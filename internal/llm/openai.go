package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const deepseekBaseURL = "https://api.deepseek.com/v1"

// OpenAIProvider speaks the OpenAI chat-completions protocol. DeepSeek
// exposes the same wire format, so both providers share this
// implementation and differ only in base URL and name.
type OpenAIProvider struct {
	name   string
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAIProvider creates a provider against api.openai.com, or
// baseURL when set.
func NewOpenAIProvider(apiKey, baseURL string, logger *slog.Logger) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		name:   "openai",
		client: openai.NewClientWithConfig(cfg),
		logger: logger.With("provider", "openai"),
	}
}

// NewDeepSeekProvider creates a provider against the DeepSeek endpoint.
func NewDeepSeekProvider(apiKey, baseURL string, logger *slog.Logger) *OpenAIProvider {
	if baseURL == "" {
		baseURL = deepseekBaseURL
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &OpenAIProvider{
		name:   "deepseek",
		client: openai.NewClientWithConfig(cfg),
		logger: logger.With("provider", "deepseek"),
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) buildRequest(req Request) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: req.System,
		})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}

// Chat sends a blocking completion request.
func (p *OpenAIProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}
	out := &Response{
		Content: resp.Choices[0].Message.Content,
		Usage: Usage{
			Provider:     p.name,
			Model:        resp.Model,
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			Success:      true,
		},
	}
	if d := resp.Usage.PromptTokensDetails; d != nil {
		out.Usage.CacheReadTokens = d.CachedTokens
	}
	return out, nil
}

// ChatStream streams tokens to the callback. Usage arrives in the
// final chunk when the endpoint supports stream_options.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req Request, cb StreamCallback) (*Response, error) {
	wire := p.buildRequest(req)
	wire.Stream = true
	wire.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := p.client.CreateChatCompletionStream(ctx, wire)
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}
	defer stream.Close()

	var content strings.Builder
	usage := Usage{Provider: p.name, Model: req.Model, Success: true}

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("stream recv: %w", err)
		}
		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
			if d := chunk.Usage.PromptTokensDetails; d != nil {
				usage.CacheReadTokens = d.CachedTokens
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		token := chunk.Choices[0].Delta.Content
		if token == "" {
			continue
		}
		content.WriteString(token)
		if cb != nil {
			cb(token)
		}
	}
	return &Response{Content: content.String(), Usage: usage}, nil
}
