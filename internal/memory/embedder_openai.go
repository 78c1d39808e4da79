package memory

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
)

// OpenAIEmbedder implements Embedder using the OpenAI Embeddings API.
// The returned embedder is safe for concurrent use.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
}

// NewOpenAIEmbedder creates an Embedder backed by the OpenAI (or compatible)
// embeddings API. cfg.Model defaults to text-embedding-3-small.
func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	if cfg.Model == "" {
		cfg.Model = defaultEmbeddingModel
	}
	return &OpenAIEmbedder{
		client: newOpenAIClient(cfg),
		model:  cfg.Model,
	}
}

// Model returns the embedding model name.
func (e *OpenAIEmbedder) Model() string {
	return e.model
}

// Embed returns the embedding for text, or nil for empty text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
	})
	if err != nil {
		return nil, fmt.Errorf("embedder openai: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedder openai: no embedding data returned")
	}

	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Compile-time interface satisfaction check.
var _ Embedder = (*OpenAIEmbedder)(nil)
