package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/loremind/pkg/domain/interfaces"
	"github.com/secmon-lab/loremind/pkg/domain/model"
	"github.com/secmon-lab/loremind/pkg/domain/types"
	"github.com/secmon-lab/loremind/pkg/service/classifier"
	"github.com/secmon-lab/loremind/pkg/service/summary"
	"github.com/secmon-lab/loremind/pkg/utils/errutil"
	"github.com/secmon-lab/loremind/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// TurnInput is one gameplay turn handed over by the orchestrator
type TurnInput struct {
	CampaignID    int64
	SessionNumber *int
	TurnNumber    *int
	Kind          types.TurnKind
	Text          string
	Tags          []string
}

// IngestStatus is the outcome of a turn ingestion
type IngestStatus string

const (
	IngestStatusIngested  IngestStatus = "ingested"
	IngestStatusSkipped   IngestStatus = "skipped"
	IngestStatusDuplicate IngestStatus = "duplicate"
)

// sharedWorkTimeout bounds a turn ingestion or re-sync that runs detached
// from the callers waiting on it
const sharedWorkTimeout = 5 * time.Minute

// IngestResult describes what happened to a turn
type IngestResult struct {
	Status    IngestStatus
	SourceRef string
	Memory    *model.Memory // set when Status is IngestStatusIngested
}

// InitializeResult summarizes a context re-sync
type InitializeResult struct {
	CampaignID int64
	Total      int // context entries seen
	Created    int
	Skipped    int // already present or blank
	Failed     int // embedding failures or rejected entries
	Count      int // memories of the campaign afterwards
}

// IngestStats are the pipeline counters since start
type IngestStats struct {
	Ingested   int64 `json:"ingested"`
	Duplicates int64 `json:"duplicates"`
	Skipped    int64 `json:"skipped"`
	Failures   int64 `json:"failures"`
	Resynced   int64 `json:"resynced"`
}

// IngestUseCase turns gameplay turns and campaign context into memories
type IngestUseCase struct {
	repo             interfaces.Repository
	embedder         *embedder
	classifier       *classifier.Classifier
	summarizer       summary.Service
	minContentLength int
	syncConcurrency  int

	turns   singleflight.Group
	resyncs singleflight.Group

	ingested   atomic.Int64
	duplicates atomic.Int64
	skipped    atomic.Int64
	failures   atomic.Int64
	resynced   atomic.Int64
}

// NewIngestUseCase creates a new IngestUseCase
func NewIngestUseCase(repo interfaces.Repository, emb *embedder, c *classifier.Classifier, s summary.Service, minContentLength, syncConcurrency int) *IngestUseCase {
	return &IngestUseCase{
		repo:             repo,
		embedder:         emb,
		classifier:       c,
		summarizer:       s,
		minContentLength: minContentLength,
		syncConcurrency:  syncConcurrency,
	}
}

// Stats returns a snapshot of the pipeline counters
func (uc *IngestUseCase) Stats() IngestStats {
	return IngestStats{
		Ingested:   uc.ingested.Load(),
		Duplicates: uc.duplicates.Load(),
		Skipped:    uc.skipped.Load(),
		Failures:   uc.failures.Load(),
		Resynced:   uc.resynced.Load(),
	}
}

func turnDigest(kind types.TurnKind, text string) string {
	sum := sha256.Sum256([]byte(kind.String() + "\n" + text))
	return hex.EncodeToString(sum[:8])
}

// shared runs fn once per key across concurrent callers. fn gets a context
// that keeps the caller's values but not its cancellation, so one caller
// giving up does not fail the others. Each caller waits only as long as its
// own ctx allows.
func shared[T any](ctx context.Context, g *singleflight.Group, key string, fn func(context.Context) (T, error)) (T, bool, error) {
	ch := g.DoChan(key, func() (any, error) {
		workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedWorkTimeout)
		defer cancel()
		return fn(workCtx)
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, false, goerr.Wrap(ctx.Err(), "stopped waiting for shared work", goerr.V("key", key))
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Shared, res.Err
		}
		return res.Val.(T), res.Shared, nil
	}
}

// IngestTurn classifies, summarizes, embeds and stores one turn. Identical
// turns (same campaign, session, turn, kind and text) are stored once.
// When embedding fails nothing is stored and the error wraps
// model.ErrEmbeddingProvider. Only provider and store errors count as
// failures.
func (uc *IngestUseCase) IngestTurn(ctx context.Context, input TurnInput) (*IngestResult, error) {
	if err := validateCampaignID(input.CampaignID); err != nil {
		return nil, err
	}
	kind := input.Kind.Normalize()
	if !kind.IsValid() {
		return nil, goerr.Wrap(model.ErrValidation, "invalid turn kind", goerr.V("kind", input.Kind))
	}
	tags, err := model.NormalizeTags(input.Tags)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid turn tags", goerr.V(model.CampaignIDKey, input.CampaignID))
	}

	text := strings.TrimSpace(input.Text)
	if len([]rune(text)) < max(uc.minContentLength, 1) {
		uc.skipped.Add(1)
		return &IngestResult{Status: IngestStatusSkipped}, nil
	}

	sourceRef := model.TurnSourceRef(input.SessionNumber, input.TurnNumber, turnDigest(kind, text))
	key := fmt.Sprintf("%d|%s", input.CampaignID, sourceRef)

	result, _, err := shared(ctx, &uc.turns, key, func(ctx context.Context) (*IngestResult, error) {
		result, err := uc.storeTurn(ctx, input, kind, text, tags, sourceRef)
		if err != nil {
			uc.failures.Add(1)
		}
		return result, err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (uc *IngestUseCase) storeTurn(ctx context.Context, input TurnInput, kind types.TurnKind, text string, tags []string, sourceRef string) (*IngestResult, error) {
	exists, err := uc.repo.Memory().HasSource(ctx, input.CampaignID, sourceRef)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to check turn source", goerr.V(model.SourceRefKey, sourceRef))
	}
	if exists {
		uc.duplicates.Add(1)
		return &IngestResult{Status: IngestStatusDuplicate, SourceRef: sourceRef}, nil
	}

	memoryType := uc.classifier.Classify(text, kind.FallbackMemoryType())
	summaryText := uc.summarizer.Summarize(ctx, text)

	vector, err := uc.embedder.embed(ctx, text)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed turn",
			goerr.V(model.CampaignIDKey, input.CampaignID),
			goerr.V(model.SourceRefKey, sourceRef))
	}

	created, err := uc.repo.Memory().Create(ctx, input.CampaignID, &model.Memory{
		Type:          memoryType,
		Content:       text,
		Summary:       summaryText,
		Embedding:     vector,
		SessionNumber: input.SessionNumber,
		TurnNumber:    input.TurnNumber,
		Tags:          tags,
		SourceRef:     sourceRef,
	})
	if errors.Is(err, model.ErrDuplicateSource) {
		uc.duplicates.Add(1)
		return &IngestResult{Status: IngestStatusDuplicate, SourceRef: sourceRef}, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to store turn", goerr.V(model.SourceRefKey, sourceRef))
	}

	uc.ingested.Add(1)
	logging.From(ctx).Debug("turn ingested",
		"campaign_id", created.CampaignID,
		"memory_id", created.ID,
		"type", created.Type)

	return &IngestResult{
		Status:    IngestStatusIngested,
		SourceRef: sourceRef,
		Memory:    created,
	}, nil
}

// RecordTurn ingests a turn on behalf of gameplay. It never fails: errors
// are logged so that the turn goes on without the memory.
func (uc *IngestUseCase) RecordTurn(ctx context.Context, input TurnInput) {
	result, err := uc.IngestTurn(ctx, input)
	if err != nil {
		if errors.Is(err, model.ErrEmbeddingProvider) {
			logging.From(ctx).Warn("turn not recorded, embedding failed",
				"campaign_id", input.CampaignID,
				"error", err)
			return
		}
		_ = errutil.Handle(ctx, err, "failed to record turn")
		return
	}

	logging.From(ctx).Debug("turn recorded",
		"campaign_id", input.CampaignID,
		"status", result.Status)
}

// InitializeMemories stores every context entry of the campaign that is not
// yet a memory. Entries whose embedding fails are counted and left for the
// next run. Running it again creates nothing new. Concurrent calls for one
// campaign share a single run, which keeps going when the caller that
// started it goes away.
func (uc *IngestUseCase) InitializeMemories(ctx context.Context, campaignID int64) (*InitializeResult, error) {
	if err := validateCampaignID(campaignID); err != nil {
		return nil, err
	}

	v, joined, err := shared(ctx, &uc.resyncs, strconv.FormatInt(campaignID, 10), func(ctx context.Context) (*InitializeResult, error) {
		return uc.resync(ctx, campaignID)
	})
	if err != nil {
		return nil, err
	}

	result := *v
	if joined {
		logging.From(ctx).Debug("joined running re-sync", "campaign_id", campaignID)
	}
	return &result, nil
}

func (uc *IngestUseCase) resync(ctx context.Context, campaignID int64) (*InitializeResult, error) {
	logger := logging.From(ctx)

	entries, err := uc.repo.ContextEntry().List(ctx, campaignID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list context entries", goerr.V(model.CampaignIDKey, campaignID))
	}

	var created, skipped, failed atomic.Int64

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(uc.syncConcurrency)

	for _, entry := range entries {
		text := entry.MemoryText()
		if text == "" {
			skipped.Add(1)
			continue
		}

		eg.Go(func() error {
			sourceRef := entry.SourceRef()
			exists, err := uc.repo.Memory().HasSource(egCtx, campaignID, sourceRef)
			if err != nil {
				return goerr.Wrap(err, "failed to check context source", goerr.V(model.SourceRefKey, sourceRef))
			}
			if exists {
				skipped.Add(1)
				return nil
			}

			tags, err := model.NormalizeTags(entry.Tags)
			if err != nil {
				logger.Warn("dropping invalid context entry tags", "entry_id", entry.ID, "error", err)
				tags = nil
			}

			vector, err := uc.embedder.embed(egCtx, text)
			if err != nil {
				failed.Add(1)
				uc.failures.Add(1)
				logger.Warn("context entry not embedded",
					"campaign_id", campaignID,
					"entry_id", entry.ID,
					"error", err)
				return nil
			}

			_, err = uc.repo.Memory().Create(egCtx, campaignID, &model.Memory{
				Type:      types.MemoryTypeContextEntry,
				Content:   text,
				Summary:   uc.summarizer.Summarize(egCtx, text),
				Embedding: vector,
				Tags:      tags,
				SourceRef: sourceRef,
			})
			switch {
			case errors.Is(err, model.ErrDuplicateSource):
				skipped.Add(1)
				return nil
			case errors.Is(err, model.ErrValidation):
				failed.Add(1)
				logger.Warn("context entry rejected",
					"campaign_id", campaignID,
					"entry_id", entry.ID,
					"error", err)
				return nil
			case err != nil:
				uc.failures.Add(1)
				return goerr.Wrap(err, "failed to store context entry", goerr.V("entry_id", entry.ID))
			}

			created.Add(1)
			uc.resynced.Add(1)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, goerr.Wrap(err, "context re-sync failed", goerr.V(model.CampaignIDKey, campaignID))
	}

	count, err := uc.repo.Memory().Count(ctx, campaignID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to count memories", goerr.V(model.CampaignIDKey, campaignID))
	}

	result := &InitializeResult{
		CampaignID: campaignID,
		Total:      len(entries),
		Created:    int(created.Load()),
		Skipped:    int(skipped.Load()),
		Failed:     int(failed.Load()),
		Count:      count,
	}

	logger.Info("context re-sync finished",
		"campaign_id", campaignID,
		"total", result.Total,
		"created", result.Created,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"count", result.Count)

	return result, nil
}
