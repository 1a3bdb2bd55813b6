package interfaces

import (
	"context"

	"github.com/secmon-lab/loremind/pkg/domain/model"
	"github.com/secmon-lab/loremind/pkg/domain/types"
)

// MemoryRepository defines the interface for Memory data persistence.
// Every method is scoped by campaignID: an ID owned by another campaign
// yields model.ErrOwnership, an unknown ID yields model.ErrNotFound.
type MemoryRepository interface {
	// Create stores the memory record, its embedding and initial importance
	// atomically. ID and CreatedAt are assigned when empty. A memory whose
	// SourceRef is already recorded for the campaign yields
	// model.ErrDuplicateSource.
	Create(ctx context.Context, campaignID int64, memory *model.Memory) (*model.Memory, error)

	// Get retrieves a memory entry by ID
	Get(ctx context.Context, campaignID int64, memoryID model.MemoryID) (*model.Memory, error)

	// List retrieves all memories of a campaign, newest first
	List(ctx context.Context, campaignID int64) ([]*model.Memory, error)

	// Count returns the number of memories of a campaign
	Count(ctx context.Context, campaignID int64) (int, error)

	// Delete removes a memory permanently
	Delete(ctx context.Context, campaignID int64, memoryID model.MemoryID) error

	// SetImportance replaces the importance of a memory. Last writer wins.
	SetImportance(ctx context.Context, campaignID int64, memoryID model.MemoryID, importance types.Importance) error

	// FindByEmbedding performs vector similarity search using cosine distance.
	// Returns up to limit memories ordered by model.SortScored.
	FindByEmbedding(ctx context.Context, campaignID int64, embedding model.Embedding, limit int) ([]*model.ScoredMemory, error)

	// HasSource reports whether a memory with the given source reference exists
	HasSource(ctx context.Context, campaignID int64, sourceRef string) (bool, error)
}
