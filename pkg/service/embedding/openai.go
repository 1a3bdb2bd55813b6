package embedding

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/sashabaranov/go-openai"
	"github.com/secmon-lab/loremind/pkg/domain/model"
)

type openAIService struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	dimension int
}

// OpenAIOption configures the OpenAI embedding service
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	baseURL string
	model   openai.EmbeddingModel
}

// WithOpenAIBaseURL points the client at an OpenAI compatible endpoint
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) {
		c.baseURL = url
	}
}

// WithOpenAIModel sets the embedding model. text-embedding-3-small is used
// by default.
func WithOpenAIModel(m string) OpenAIOption {
	return func(c *openAIConfig) {
		c.model = openai.EmbeddingModel(m)
	}
}

// NewOpenAI creates a Service backed by the OpenAI embeddings API. The
// requested dimension is passed to the API so text-embedding-3 models
// return vectors of exactly that size.
func NewOpenAI(apiKey string, dimension int, opts ...OpenAIOption) (Service, error) {
	if apiKey == "" {
		return nil, goerr.New("OpenAI API key is required")
	}
	if dimension <= 0 {
		return nil, goerr.New("embedding dimension must be positive", goerr.V(model.DimensionKey, dimension))
	}

	cfg := openAIConfig{model: openai.SmallEmbedding3}
	for _, opt := range opts {
		opt(&cfg)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.baseURL != "" {
		clientCfg.BaseURL = cfg.baseURL
	}

	return &openAIService{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.model,
		dimension: dimension,
	}, nil
}

func (s *openAIService) Dimension() int {
	return s.dimension
}

func (s *openAIService) Embed(ctx context.Context, text string) (model.Embedding, error) {
	text, err := normalizeInput(text)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      s.model,
		Dimensions: s.dimension,
	})
	if err != nil {
		return nil, providerError(err, "failed to create embedding",
			goerr.V("model", s.model),
			goerr.V("text_length", len(text)))
	}
	if len(resp.Data) == 0 {
		return nil, goerr.Wrap(model.ErrEmbeddingProvider, "no embedding returned", goerr.V("model", s.model))
	}

	result := model.Embedding(resp.Data[0].Embedding)
	if err := check(result, s.dimension); err != nil {
		return nil, err
	}
	return result, nil
}
