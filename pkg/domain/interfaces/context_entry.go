package interfaces

import (
	"context"

	"github.com/secmon-lab/loremind/pkg/domain/model"
)

// ContextEntryRepository is the campaign context store consumed by the
// bulk re-sync
type ContextEntryRepository interface {
	// Put creates or replaces a context entry
	Put(ctx context.Context, entry *model.ContextEntry) error

	// List retrieves all context entries of a campaign
	List(ctx context.Context, campaignID int64) ([]*model.ContextEntry, error)
}
