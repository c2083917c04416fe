package llm

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"
	openai "github.com/sashabaranov/go-openai"

	"github.com/omnibrain/omnibrain/internal/config"
)

// NewEmbeddingFunc builds the embedding function the vector memory
// uses, backed by an OpenAI-compatible embeddings endpoint.
func NewEmbeddingFunc(cfg config.EmbeddingsConfig) (chromem.EmbeddingFunc, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embeddings require an API key")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	client := openai.NewClientWithConfig(clientCfg)
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}

	return func(ctx context.Context, text string) ([]float32, error) {
		resp, err := client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(model),
		})
		if err != nil {
			return nil, fmt.Errorf("create embedding: %w", err)
		}
		if len(resp.Data) == 0 {
			return nil, fmt.Errorf("empty embedding response")
		}
		return resp.Data[0].Embedding, nil
	}, nil
}
