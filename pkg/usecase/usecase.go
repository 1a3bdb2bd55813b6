package usecase

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/loremind/pkg/domain/interfaces"
	"github.com/secmon-lab/loremind/pkg/service/classifier"
	"github.com/secmon-lab/loremind/pkg/service/embedding"
	"github.com/secmon-lab/loremind/pkg/service/recall"
	"github.com/secmon-lab/loremind/pkg/service/summary"
)

const (
	DefaultEmbedTimeout     = 10 * time.Second
	DefaultMinContentLength = 3
	DefaultSyncConcurrency  = 4
)

type UseCases struct {
	repo             interfaces.Repository
	embedder         embedding.Service
	summarizer       summary.Service
	classifier       *classifier.Classifier
	policy           recall.Policy
	embedTimeout     time.Duration
	minContentLength int
	syncConcurrency  int

	Memory *MemoryUseCase
	Ingest *IngestUseCase
}

type Option func(*UseCases)

// WithSummarizer sets the summary service. Truncation is used by default.
func WithSummarizer(s summary.Service) Option {
	return func(uc *UseCases) {
		uc.summarizer = s
	}
}

// WithClassifier sets the memory type classifier for ingested turns
func WithClassifier(c *classifier.Classifier) Option {
	return func(uc *UseCases) {
		uc.classifier = c
	}
}

// WithRecallPolicy sets the ranking policy for searches
func WithRecallPolicy(p recall.Policy) Option {
	return func(uc *UseCases) {
		uc.policy = p
	}
}

// WithEmbedTimeout bounds every embedding call. Zero disables the bound.
func WithEmbedTimeout(d time.Duration) Option {
	return func(uc *UseCases) {
		uc.embedTimeout = d
	}
}

// WithMinContentLength sets the shortest turn text, in characters, that is
// ingested
func WithMinContentLength(n int) Option {
	return func(uc *UseCases) {
		uc.minContentLength = n
	}
}

// WithSyncConcurrency sets how many context entries are embedded at once
// during re-sync
func WithSyncConcurrency(n int) Option {
	return func(uc *UseCases) {
		uc.syncConcurrency = n
	}
}

func New(repo interfaces.Repository, embedSvc embedding.Service, opts ...Option) (*UseCases, error) {
	if repo == nil {
		return nil, goerr.New("repository is required")
	}
	if embedSvc == nil {
		return nil, goerr.New("embedding service is required")
	}

	uc := &UseCases{
		repo:             repo,
		embedder:         embedSvc,
		policy:           recall.DefaultPolicy(),
		embedTimeout:     DefaultEmbedTimeout,
		minContentLength: DefaultMinContentLength,
		syncConcurrency:  DefaultSyncConcurrency,
	}

	for _, opt := range opts {
		opt(uc)
	}

	if uc.summarizer == nil {
		uc.summarizer = summary.NewTruncator(summary.DefaultThreshold)
	}
	if uc.classifier == nil {
		c, err := classifier.New()
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create classifier")
		}
		uc.classifier = c
	}
	if uc.syncConcurrency <= 0 {
		uc.syncConcurrency = 1
	}

	emb := &embedder{svc: uc.embedder, timeout: uc.embedTimeout}
	uc.Ingest = NewIngestUseCase(repo, emb, uc.classifier, uc.summarizer, uc.minContentLength, uc.syncConcurrency)
	uc.Memory = NewMemoryUseCase(repo, emb, uc.summarizer, recall.New(repo.Memory(), uc.policy), uc.Ingest)

	return uc, nil
}
