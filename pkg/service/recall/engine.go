package recall

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/loremind/pkg/domain/interfaces"
	"github.com/secmon-lab/loremind/pkg/domain/model"
)

// Engine answers similarity queries against one campaign's memories
type Engine struct {
	repo   interfaces.MemoryRepository
	policy Policy
}

// New creates an Engine over repo
func New(repo interfaces.MemoryRepository, policy Policy) *Engine {
	return &Engine{
		repo:   repo,
		policy: policy,
	}
}

// Policy returns the ranking policy of the engine
func (e *Engine) Policy() Policy {
	return e.policy
}

// Search returns at most topK memories of campaignID ranked against query.
// topK <= 0 uses the policy default.
func (e *Engine) Search(ctx context.Context, campaignID int64, query model.Embedding, topK int) ([]*model.ScoredMemory, error) {
	if campaignID <= 0 {
		return nil, goerr.Wrap(model.ErrValidation, "campaign ID must be positive", goerr.V(model.CampaignIDKey, campaignID))
	}
	if len(query) == 0 {
		return nil, goerr.Wrap(model.ErrValidation, "query embedding is required", goerr.V(model.CampaignIDKey, campaignID))
	}

	topK = e.policy.TopK(topK)
	candidates, err := e.repo.FindByEmbedding(ctx, campaignID, query, e.policy.PoolSize(topK))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to find memory candidates",
			goerr.V(model.CampaignIDKey, campaignID),
			goerr.V("top_k", topK))
	}

	return e.policy.Rank(candidates, topK), nil
}
