package embedding

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/loremind/pkg/domain/model"
)

type llmService struct {
	client    gollem.LLMClient
	dimension int
}

// NewLLM creates a Service backed by the embedding endpoint of an LLM provider
func NewLLM(client gollem.LLMClient, dimension int) (Service, error) {
	if client == nil {
		return nil, goerr.New("LLM client is required")
	}
	if dimension <= 0 {
		return nil, goerr.New("embedding dimension must be positive", goerr.V(model.DimensionKey, dimension))
	}

	return &llmService{
		client:    client,
		dimension: dimension,
	}, nil
}

func (s *llmService) Dimension() int {
	return s.dimension
}

func (s *llmService) Embed(ctx context.Context, text string) (model.Embedding, error) {
	text, err := normalizeInput(text)
	if err != nil {
		return nil, err
	}

	embeddings, err := s.client.GenerateEmbedding(ctx, s.dimension, []string{text})
	if err != nil {
		return nil, providerError(err, "failed to generate embedding", goerr.V("text_length", len(text)))
	}
	if len(embeddings) == 0 {
		return nil, goerr.Wrap(model.ErrEmbeddingProvider, "no embedding returned")
	}

	// Convert float64 to float32
	result := make(model.Embedding, len(embeddings[0]))
	for i, v := range embeddings[0] {
		result[i] = float32(v)
	}

	if err := check(result, s.dimension); err != nil {
		return nil, err
	}
	return result, nil
}
