package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/loremind/pkg/domain/model"
	"github.com/secmon-lab/loremind/pkg/domain/types"
)

// importanceFact is the mutable part of a memory, kept apart from the
// write-once record
type importanceFact struct {
	value   types.Importance
	version int64
}

// campaignMemories holds one campaign's memory set
type campaignMemories struct {
	records    map[model.MemoryID]*model.Memory
	importance map[model.MemoryID]importanceFact
	sources    map[string]model.MemoryID
	dimension  int
}

type memoryRepository struct {
	mu        sync.RWMutex
	campaigns map[int64]*campaignMemories
	owners    map[model.MemoryID]int64
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		campaigns: make(map[int64]*campaignMemories),
		owners:    make(map[model.MemoryID]int64),
	}
}

func (r *memoryRepository) ensureCampaign(campaignID int64) *campaignMemories {
	c, exists := r.campaigns[campaignID]
	if !exists {
		c = &campaignMemories{
			records:    make(map[model.MemoryID]*model.Memory),
			importance: make(map[model.MemoryID]importanceFact),
			sources:    make(map[string]model.MemoryID),
		}
		r.campaigns[campaignID] = c
	}
	return c
}

// lookup resolves memoryID inside campaignID. Must be called with r.mu held.
func (r *memoryRepository) lookup(campaignID int64, memoryID model.MemoryID) (*campaignMemories, *model.Memory, error) {
	owner, exists := r.owners[memoryID]
	if !exists {
		return nil, nil, goerr.Wrap(model.ErrNotFound, "memory not found",
			goerr.V(model.MemoryIDKey, memoryID),
			goerr.V(model.CampaignIDKey, campaignID))
	}
	if owner != campaignID {
		return nil, nil, goerr.Wrap(model.ErrOwnership, "memory is not owned by campaign",
			goerr.V(model.MemoryIDKey, memoryID),
			goerr.V(model.CampaignIDKey, campaignID))
	}

	c := r.campaigns[campaignID]
	return c, c.records[memoryID], nil
}

func (c *campaignMemories) read(m *model.Memory) *model.Memory {
	copied := m.Clone()
	copied.Importance = c.importance[m.ID].value
	return copied
}

func (r *memoryRepository) Create(ctx context.Context, campaignID int64, mem *model.Memory) (*model.Memory, error) {
	created := mem.Clone()
	created.CampaignID = campaignID
	if err := created.Validate(); err != nil {
		return nil, err
	}
	if created.ID == "" {
		created.ID = model.NewMemoryID()
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}
	tags, err := model.NormalizeTags(created.Tags)
	if err != nil {
		return nil, err
	}
	created.Tags = tags

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "memory creation cancelled", goerr.V(model.CampaignIDKey, campaignID))
	}

	c := r.ensureCampaign(campaignID)
	if c.dimension != 0 && c.dimension != created.Embedding.Dimension() {
		return nil, goerr.Wrap(model.ErrDimensionMismatch, "embedding dimension differs from campaign",
			goerr.V(model.CampaignIDKey, campaignID),
			goerr.V(model.DimensionKey, created.Embedding.Dimension()),
			goerr.V("campaign_dimension", c.dimension))
	}
	if _, exists := r.owners[created.ID]; exists {
		return nil, goerr.Wrap(model.ErrValidation, "memory ID already in use", goerr.V(model.MemoryIDKey, created.ID))
	}
	if created.SourceRef != "" {
		if existing, exists := c.sources[created.SourceRef]; exists {
			return nil, goerr.Wrap(model.ErrDuplicateSource, "source already recorded",
				goerr.V(model.CampaignIDKey, campaignID),
				goerr.V(model.SourceRefKey, created.SourceRef),
				goerr.V(model.MemoryIDKey, existing))
		}
		c.sources[created.SourceRef] = created.ID
	}

	c.dimension = created.Embedding.Dimension()
	c.records[created.ID] = created
	c.importance[created.ID] = importanceFact{value: created.Importance, version: 1}
	r.owners[created.ID] = campaignID

	return c.read(created), nil
}

func (r *memoryRepository) Get(ctx context.Context, campaignID int64, memoryID model.MemoryID) (*model.Memory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, mem, err := r.lookup(campaignID, memoryID)
	if err != nil {
		return nil, err
	}
	return c.read(mem), nil
}

func (r *memoryRepository) List(ctx context.Context, campaignID int64) ([]*model.Memory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.campaigns[campaignID]
	if !exists {
		return []*model.Memory{}, nil
	}

	result := make([]*model.Memory, 0, len(c.records))
	for _, m := range c.records {
		result = append(result, c.read(m))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

func (r *memoryRepository) Count(ctx context.Context, campaignID int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.campaigns[campaignID]
	if !exists {
		return 0, nil
	}
	return len(c.records), nil
}

func (r *memoryRepository) Delete(ctx context.Context, campaignID int64, memoryID model.MemoryID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, mem, err := r.lookup(campaignID, memoryID)
	if err != nil {
		return err
	}

	if mem.SourceRef != "" {
		delete(c.sources, mem.SourceRef)
	}
	delete(c.records, memoryID)
	delete(c.importance, memoryID)
	delete(r.owners, memoryID)
	if len(c.records) == 0 {
		c.dimension = 0
	}
	return nil
}

func (r *memoryRepository) SetImportance(ctx context.Context, campaignID int64, memoryID model.MemoryID, importance types.Importance) error {
	if err := importance.Validate(); err != nil {
		return goerr.Wrap(model.ErrValidation, err.Error(), goerr.V(model.MemoryIDKey, memoryID))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, _, err := r.lookup(campaignID, memoryID)
	if err != nil {
		return err
	}

	fact := c.importance[memoryID]
	c.importance[memoryID] = importanceFact{value: importance, version: fact.version + 1}
	return nil
}

func (r *memoryRepository) HasSource(ctx context.Context, campaignID int64, sourceRef string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.campaigns[campaignID]
	if !exists {
		return false, nil
	}
	_, exists = c.sources[sourceRef]
	return exists, nil
}

func (r *memoryRepository) FindByEmbedding(ctx context.Context, campaignID int64, embedding model.Embedding, limit int) ([]*model.ScoredMemory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.campaigns[campaignID]
	if !exists || len(c.records) == 0 {
		return []*model.ScoredMemory{}, nil
	}
	if c.dimension != embedding.Dimension() {
		return nil, goerr.Wrap(model.ErrDimensionMismatch, "query dimension differs from campaign",
			goerr.V(model.CampaignIDKey, campaignID),
			goerr.V(model.DimensionKey, embedding.Dimension()),
			goerr.V("campaign_dimension", c.dimension))
	}

	candidates := make([]*model.ScoredMemory, 0, len(c.records))
	for _, m := range c.records {
		s := model.CosineSimilarity(embedding, m.Embedding)
		candidates = append(candidates, model.NewScoredMemory(c.read(m), s))
	}

	// Ties on score are cut by importance and recency, not by scan order
	model.SortScored(candidates)

	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}
	return candidates, nil
}
