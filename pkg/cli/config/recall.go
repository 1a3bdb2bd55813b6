package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/secmon-lab/loremind/pkg/domain/types"
	"github.com/secmon-lab/loremind/pkg/service/classifier"
	"github.com/secmon-lab/loremind/pkg/service/recall"
	"github.com/secmon-lab/loremind/pkg/usecase"
	"github.com/urfave/cli/v3"
)

// Recall holds CLI flags for ranking and ingestion tuning
type Recall struct {
	topK                int
	candidateMultiplier int
	minCandidates       int
	minScore            int
	importanceWeight    float64
	floorImportance     int
	floorMargin         int

	embedTimeout     time.Duration
	minContentLength int
	syncConcurrency  int
	keywordFile      string
}

// Flags returns CLI flags for recall configuration
func (x *Recall) Flags() []cli.Flag {
	def := recall.DefaultPolicy()
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "recall-top-k",
			Usage:       "Number of memories returned when a search does not ask for a size",
			Value:       def.DefaultTopK,
			Sources:     cli.EnvVars("LOREMIND_RECALL_TOP_K"),
			Destination: &x.topK,
		},
		&cli.IntFlag{
			Name:        "recall-candidate-multiplier",
			Usage:       "Candidate pool size as a multiple of the requested size",
			Value:       def.CandidateMultiplier,
			Sources:     cli.EnvVars("LOREMIND_RECALL_CANDIDATE_MULTIPLIER"),
			Destination: &x.candidateMultiplier,
		},
		&cli.IntFlag{
			Name:        "recall-min-candidates",
			Usage:       "Minimum candidate pool size",
			Value:       def.MinCandidates,
			Sources:     cli.EnvVars("LOREMIND_RECALL_MIN_CANDIDATES"),
			Destination: &x.minCandidates,
		},
		&cli.IntFlag{
			Name:        "recall-min-score",
			Usage:       "Drop search results scoring below this value (0-100)",
			Value:       def.MinScore,
			Sources:     cli.EnvVars("LOREMIND_RECALL_MIN_SCORE"),
			Destination: &x.minScore,
		},
		&cli.Float64Flag{
			Name:        "recall-importance-weight",
			Usage:       "Weight of importance added to the similarity score when ranking",
			Value:       def.ImportanceWeight,
			Sources:     cli.EnvVars("LOREMIND_RECALL_IMPORTANCE_WEIGHT"),
			Destination: &x.importanceWeight,
		},
		&cli.IntFlag{
			Name:        "recall-floor-importance",
			Usage:       "Importance at which near-miss memories may displace weaker results",
			Value:       def.FloorImportance.Int(),
			Sources:     cli.EnvVars("LOREMIND_RECALL_FLOOR_IMPORTANCE"),
			Destination: &x.floorImportance,
		},
		&cli.IntFlag{
			Name:        "recall-floor-margin",
			Usage:       "Score margin below the cut-off for important memories",
			Value:       def.FloorMargin,
			Sources:     cli.EnvVars("LOREMIND_RECALL_FLOOR_MARGIN"),
			Destination: &x.floorMargin,
		},
		&cli.DurationFlag{
			Name:        "embed-timeout",
			Usage:       "Timeout of a single embedding call",
			Value:       usecase.DefaultEmbedTimeout,
			Sources:     cli.EnvVars("LOREMIND_EMBED_TIMEOUT"),
			Destination: &x.embedTimeout,
		},
		&cli.IntFlag{
			Name:        "ingest-min-length",
			Usage:       "Shortest turn text, in characters, that is ingested",
			Value:       usecase.DefaultMinContentLength,
			Sources:     cli.EnvVars("LOREMIND_INGEST_MIN_LENGTH"),
			Destination: &x.minContentLength,
		},
		&cli.IntFlag{
			Name:        "sync-concurrency",
			Usage:       "Context entries embedded in parallel during initialization",
			Value:       usecase.DefaultSyncConcurrency,
			Sources:     cli.EnvVars("LOREMIND_SYNC_CONCURRENCY"),
			Destination: &x.syncConcurrency,
		},
		&cli.StringFlag{
			Name:        "keyword-file",
			Usage:       "TOML file replacing the classifier keywords of the memory types it names",
			Sources:     cli.EnvVars("LOREMIND_KEYWORD_FILE"),
			Destination: &x.keywordFile,
		},
	}
}

// LogValue implements slog.LogValuer
func (x Recall) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("top_k", x.topK),
		slog.Int("candidate_multiplier", x.candidateMultiplier),
		slog.Int("min_candidates", x.minCandidates),
		slog.Int("min_score", x.minScore),
		slog.Float64("importance_weight", x.importanceWeight),
		slog.Int("floor_importance", x.floorImportance),
		slog.Int("floor_margin", x.floorMargin),
		slog.Duration("embed_timeout", x.embedTimeout),
		slog.Int("min_content_length", x.minContentLength),
		slog.Int("sync_concurrency", x.syncConcurrency),
		slog.String("keyword_file", x.keywordFile),
	)
}

// Policy returns the ranking policy
func (x *Recall) Policy() (recall.Policy, error) {
	if x.minScore < 0 || x.minScore > 100 {
		return recall.Policy{}, goerr.New("recall-min-score must be between 0 and 100", goerr.V("min_score", x.minScore))
	}
	floor := types.Importance(x.floorImportance)
	if err := floor.Validate(); err != nil {
		return recall.Policy{}, goerr.Wrap(err, "invalid recall-floor-importance")
	}
	if x.importanceWeight < 0 {
		return recall.Policy{}, goerr.New("recall-importance-weight must not be negative")
	}

	return recall.Policy{
		DefaultTopK:         x.topK,
		CandidateMultiplier: x.candidateMultiplier,
		MinCandidates:       x.minCandidates,
		MinScore:            x.minScore,
		ImportanceWeight:    x.importanceWeight,
		FloorImportance:     floor,
		FloorMargin:         x.floorMargin,
	}, nil
}

// keywordFile maps memory type names to classifier keywords
type keywordFile struct {
	Keywords map[string][]string `toml:"keywords"`
}

// Classifier builds the memory type classifier. Types named in the keyword
// file use the keywords listed there instead of the built-in ones.
func (x *Recall) Classifier() (*classifier.Classifier, error) {
	if x.keywordFile == "" {
		return classifier.New()
	}

	// #nosec G304 - path is provided by the operator
	data, err := os.ReadFile(x.keywordFile)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read keyword file", goerr.V("path", x.keywordFile))
	}

	var file keywordFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, goerr.Wrap(err, "failed to parse keyword file", goerr.V("path", x.keywordFile))
	}

	var opts []classifier.Option
	for name, keywords := range file.Keywords {
		memoryType := types.ParseMemoryType(name)
		if !memoryType.IsKnown() {
			return nil, goerr.New("unknown memory type in keyword file",
				goerr.V("path", x.keywordFile),
				goerr.V("type", name))
		}
		opts = append(opts, classifier.WithKeywords(memoryType, keywords...))
	}
	return classifier.New(opts...)
}

// Options returns the use case options for this configuration
func (x *Recall) Options() ([]usecase.Option, error) {
	policy, err := x.Policy()
	if err != nil {
		return nil, err
	}
	c, err := x.Classifier()
	if err != nil {
		return nil, err
	}

	return []usecase.Option{
		usecase.WithRecallPolicy(policy),
		usecase.WithClassifier(c),
		usecase.WithEmbedTimeout(x.embedTimeout),
		usecase.WithMinContentLength(x.minContentLength),
		usecase.WithSyncConcurrency(x.syncConcurrency),
	}, nil
}
