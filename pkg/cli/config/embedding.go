package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem/llm/gemini"
	"github.com/secmon-lab/loremind/pkg/domain/model"
	"github.com/secmon-lab/loremind/pkg/service/embedding"
	"github.com/secmon-lab/loremind/pkg/service/summary"
	"github.com/urfave/cli/v3"
)

// Embedding holds CLI flags for the embedding provider and summarizer
type Embedding struct {
	provider  string
	dimension int
	cacheSize int64

	breakerFailures int
	breakerTimeout  time.Duration

	geminiProject  string
	geminiLocation string
	gemini         *gemini.Client

	openAIKey     string
	openAIBaseURL string
	openAIModel   string

	summarizer       string
	summaryThreshold int
	summaryTimeout   time.Duration
}

// Flags returns CLI flags for embedding configuration
func (x *Embedding) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "embedding-provider",
			Usage:       "Embedding provider (gemini, openai or hash)",
			Value:       "hash",
			Sources:     cli.EnvVars("LOREMIND_EMBEDDING_PROVIDER"),
			Destination: &x.provider,
		},
		&cli.IntFlag{
			Name:        "embedding-dimension",
			Usage:       "Embedding vector dimension",
			Value:       model.EmbeddingDimension,
			Sources:     cli.EnvVars("LOREMIND_EMBEDDING_DIMENSION"),
			Destination: &x.dimension,
		},
		&cli.Int64Flag{
			Name:        "embedding-cache-size",
			Usage:       "Number of query embeddings kept in memory, 0 disables the cache",
			Value:       1024,
			Sources:     cli.EnvVars("LOREMIND_EMBEDDING_CACHE_SIZE"),
			Destination: &x.cacheSize,
		},
		&cli.IntFlag{
			Name:        "embedding-breaker-failures",
			Usage:       "Consecutive provider failures that open the circuit, 0 disables it",
			Value:       int(embedding.DefaultBreakerConfig().ConsecutiveFailures),
			Sources:     cli.EnvVars("LOREMIND_EMBEDDING_BREAKER_FAILURES"),
			Destination: &x.breakerFailures,
		},
		&cli.DurationFlag{
			Name:        "embedding-breaker-timeout",
			Usage:       "How long the provider circuit stays open",
			Value:       embedding.DefaultBreakerConfig().OpenTimeout,
			Sources:     cli.EnvVars("LOREMIND_EMBEDDING_BREAKER_TIMEOUT"),
			Destination: &x.breakerTimeout,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini API",
			Sources:     cli.EnvVars("LOREMIND_GEMINI_PROJECT"),
			Destination: &x.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini API",
			Value:       "us-central1",
			Sources:     cli.EnvVars("LOREMIND_GEMINI_LOCATION"),
			Destination: &x.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "OpenAI API key",
			Sources:     cli.EnvVars("LOREMIND_OPENAI_API_KEY"),
			Destination: &x.openAIKey,
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Usage:       "OpenAI compatible API base URL",
			Sources:     cli.EnvVars("LOREMIND_OPENAI_BASE_URL"),
			Destination: &x.openAIBaseURL,
		},
		&cli.StringFlag{
			Name:        "openai-embedding-model",
			Usage:       "OpenAI embedding model",
			Value:       "text-embedding-3-small",
			Sources:     cli.EnvVars("LOREMIND_OPENAI_EMBEDDING_MODEL"),
			Destination: &x.openAIModel,
		},
		&cli.StringFlag{
			Name:        "summarizer",
			Usage:       "Summarizer for long memories (truncate or gemini)",
			Value:       "truncate",
			Sources:     cli.EnvVars("LOREMIND_SUMMARIZER"),
			Destination: &x.summarizer,
		},
		&cli.IntFlag{
			Name:        "summary-threshold",
			Usage:       "Memories longer than this many characters get a summary",
			Value:       summary.DefaultThreshold,
			Sources:     cli.EnvVars("LOREMIND_SUMMARY_THRESHOLD"),
			Destination: &x.summaryThreshold,
		},
		&cli.DurationFlag{
			Name:        "summary-timeout",
			Usage:       "Deadline for one LLM summary before falling back to truncation",
			Value:       summary.DefaultTimeout,
			Sources:     cli.EnvVars("LOREMIND_SUMMARY_TIMEOUT"),
			Destination: &x.summaryTimeout,
		},
	}
}

// LogValue implements slog.LogValuer. The API key is not logged.
func (x Embedding) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("provider", x.provider),
		slog.Int("dimension", x.dimension),
		slog.Int64("cache_size", x.cacheSize),
		slog.Int("breaker_failures", x.breakerFailures),
		slog.Duration("breaker_timeout", x.breakerTimeout),
		slog.String("gemini_project", x.geminiProject),
		slog.String("gemini_location", x.geminiLocation),
		slog.String("openai_base_url", x.openAIBaseURL),
		slog.String("openai_model", x.openAIModel),
		slog.String("summarizer", x.summarizer),
		slog.Int("summary_threshold", x.summaryThreshold),
		slog.Duration("summary_timeout", x.summaryTimeout),
	)
}

// Dimension returns the configured embedding dimension
func (x *Embedding) Dimension() int {
	return x.dimension
}

// GeminiClient returns the Gemini client shared by the embedding
// provider, the summarizer and the narrator
func (x *Embedding) GeminiClient(ctx context.Context) (*gemini.Client, error) {
	if x.gemini != nil {
		return x.gemini, nil
	}
	if x.geminiProject == "" {
		return nil, goerr.New("gemini-project is required for Gemini features")
	}
	client, err := gemini.New(ctx, x.geminiProject, x.geminiLocation)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create Gemini client")
	}
	x.gemini = client
	return client, nil
}

// Configure builds the embedding service and the summarizer
func (x *Embedding) Configure(ctx context.Context) (embedding.Service, summary.Service, error) {
	var svc embedding.Service
	switch x.provider {
	case "gemini":
		client, err := x.GeminiClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		if svc, err = embedding.NewLLM(client, x.dimension); err != nil {
			return nil, nil, err
		}

	case "openai":
		var opts []embedding.OpenAIOption
		if x.openAIBaseURL != "" {
			opts = append(opts, embedding.WithOpenAIBaseURL(x.openAIBaseURL))
		}
		if x.openAIModel != "" {
			opts = append(opts, embedding.WithOpenAIModel(x.openAIModel))
		}
		var err error
		if svc, err = embedding.NewOpenAI(x.openAIKey, x.dimension, opts...); err != nil {
			return nil, nil, err
		}

	case "hash":
		var err error
		if svc, err = embedding.NewHash(x.dimension); err != nil {
			return nil, nil, err
		}

	default:
		return nil, nil, goerr.New("invalid embedding provider", goerr.V("provider", x.provider))
	}

	if x.breakerFailures < 0 {
		return nil, nil, goerr.New("embedding-breaker-failures must not be negative")
	}
	svc = embedding.WithBreaker(svc, embedding.BreakerConfig{
		ConsecutiveFailures: uint32(x.breakerFailures), // #nosec G115
		OpenTimeout:         x.breakerTimeout,
		HalfOpenRequests:    1,
	})

	svc, err := embedding.WithCache(svc, x.cacheSize)
	if err != nil {
		return nil, nil, err
	}

	var sum summary.Service
	switch x.summarizer {
	case "truncate", "":
		sum = summary.NewTruncator(x.summaryThreshold)
	case "gemini":
		client, err := x.GeminiClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		if sum, err = summary.NewLLM(client, x.summaryThreshold, summary.WithTimeout(x.summaryTimeout)); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, goerr.New("invalid summarizer", goerr.V("summarizer", x.summarizer))
	}

	return svc, sum, nil
}
