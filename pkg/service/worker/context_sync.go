package worker

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/loremind/pkg/domain/interfaces"
	"github.com/secmon-lab/loremind/pkg/domain/model"
	"github.com/secmon-lab/loremind/pkg/usecase"
	"github.com/secmon-lab/loremind/pkg/utils/logging"
)

// ContextLoader reads the campaign context from its source of truth
type ContextLoader interface {
	Load(ctx context.Context, campaignID int64) ([]*model.ContextEntry, error)
}

// Initializer turns stored context entries into memories
type Initializer interface {
	InitializeMemories(ctx context.Context, campaignID int64) (*usecase.InitializeResult, error)
}

// ContextSyncWorker periodically copies campaign context entries into the
// context store and re-syncs them into memories.
//
// Architecture assumptions:
// - Single server instance (no distributed locking)
// - Re-sync is idempotent, so overlapping runs on several instances only waste work
type ContextSyncWorker struct {
	repo        interfaces.Repository
	loader      ContextLoader
	initializer Initializer
	campaigns   []int64
	interval    time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewContextSyncWorker creates a new worker for the given campaigns
func NewContextSyncWorker(repo interfaces.Repository, loader ContextLoader, initializer Initializer, campaigns []int64, interval time.Duration) *ContextSyncWorker {
	return &ContextSyncWorker{
		repo:        repo,
		loader:      loader,
		initializer: initializer,
		campaigns:   campaigns,
		interval:    interval,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the background sync loop. The first sync runs in the
// background as well and does not block server startup.
func (w *ContextSyncWorker) Start(ctx context.Context) error {
	if w.interval <= 0 {
		return goerr.New("sync interval must be positive", goerr.V("interval", w.interval))
	}

	logging.Default().Info("Context sync worker starting",
		"interval", w.interval.String(),
		"campaigns", w.campaigns)

	go w.run(ctx)

	return nil
}

// Stop signals the worker to stop and waits for completion
func (w *ContextSyncWorker) Stop() {
	logging.Default().Info("Context sync worker stopping")
	close(w.stopCh)
	<-w.doneCh
	logging.Default().Info("Context sync worker stopped")
}

func (w *ContextSyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	w.syncAll(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.syncAll(ctx)

		case <-w.stopCh:
			return

		case <-ctx.Done():
			logging.Default().Info("Context sync worker context cancelled")
			return
		}
	}
}

func (w *ContextSyncWorker) syncAll(ctx context.Context) {
	for _, campaignID := range w.campaigns {
		if _, err := Sync(ctx, w.repo, w.loader, w.initializer, campaignID); err != nil {
			// keep going, the next tick retries
			logging.Default().Error("Context sync failed (will retry next interval)",
				"campaign_id", campaignID,
				"error", err.Error())
		}
	}
}

// Sync performs a single sync cycle for one campaign: entries from loader
// are upserted into the context store, then memories are initialized
func Sync(ctx context.Context, repo interfaces.Repository, loader ContextLoader, initializer Initializer, campaignID int64) (*usecase.InitializeResult, error) {
	startTime := time.Now()

	entries, err := loader.Load(ctx, campaignID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load context entries", goerr.V(model.CampaignIDKey, campaignID))
	}

	for _, entry := range entries {
		entry.CampaignID = campaignID
		if entry.UpdatedAt.IsZero() {
			entry.UpdatedAt = startTime
		}
		if err := repo.ContextEntry().Put(ctx, entry); err != nil {
			return nil, goerr.Wrap(err, "failed to store context entry",
				goerr.V(model.CampaignIDKey, campaignID),
				goerr.V("entry_id", entry.ID))
		}
	}

	result, err := initializer.InitializeMemories(ctx, campaignID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to initialize memories", goerr.V(model.CampaignIDKey, campaignID))
	}

	logging.Default().Info("Context sync completed",
		"campaign_id", campaignID,
		"entries", len(entries),
		"created", result.Created,
		"count", result.Count,
		"duration", time.Since(startTime).String())

	return result, nil
}
