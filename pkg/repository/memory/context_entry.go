package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/loremind/pkg/domain/model"
)

type contextEntryRepository struct {
	mu      sync.RWMutex
	entries map[int64]map[model.ContextEntryID]*model.ContextEntry
}

func newContextEntryRepository() *contextEntryRepository {
	return &contextEntryRepository{
		entries: make(map[int64]map[model.ContextEntryID]*model.ContextEntry),
	}
}

func copyContextEntry(e *model.ContextEntry) *model.ContextEntry {
	copied := *e
	if e.Tags != nil {
		copied.Tags = make([]string, len(e.Tags))
		copy(copied.Tags, e.Tags)
	}
	return &copied
}

func (r *contextEntryRepository) Put(ctx context.Context, entry *model.ContextEntry) error {
	if entry.ID == "" {
		return goerr.Wrap(model.ErrValidation, "context entry ID is required")
	}
	if entry.CampaignID <= 0 {
		return goerr.Wrap(model.ErrValidation, "campaign ID must be positive", goerr.V("entryID", entry.ID))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, exists := r.entries[entry.CampaignID]
	if !exists {
		bucket = make(map[model.ContextEntryID]*model.ContextEntry)
		r.entries[entry.CampaignID] = bucket
	}
	bucket[entry.ID] = copyContextEntry(entry)
	return nil
}

func (r *contextEntryRepository) List(ctx context.Context, campaignID int64) ([]*model.ContextEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket := r.entries[campaignID]
	result := make([]*model.ContextEntry, 0, len(bucket))
	for _, e := range bucket {
		result = append(result, copyContextEntry(e))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}
