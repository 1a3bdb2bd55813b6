package recall_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/loremind/pkg/domain/model"
	"github.com/secmon-lab/loremind/pkg/domain/types"
	"github.com/secmon-lab/loremind/pkg/repository/memory"
	"github.com/secmon-lab/loremind/pkg/service/recall"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func scored(id string, score int, importance types.Importance, age time.Duration) *model.ScoredMemory {
	return &model.ScoredMemory{
		Memory: &model.Memory{
			ID:         model.MemoryID(id),
			CampaignID: 1,
			Content:    id,
			Importance: importance,
			CreatedAt:  baseTime.Add(-age),
		},
		Similarity: float64(score) / 100,
		Score:      score,
	}
}

func ids(results []*model.ScoredMemory) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, string(r.Memory.ID))
	}
	return out
}

func TestPolicy_Rank(t *testing.T) {
	t.Run("orders by score, importance, recency, then ID", func(t *testing.T) {
		p := recall.DefaultPolicy()
		results := p.Rank([]*model.ScoredMemory{
			scored("low", 40, 9, 0),
			scored("tie-old", 80, 5, time.Hour),
			scored("tie-new", 80, 5, time.Minute),
			scored("tie-important", 80, 7, 2*time.Hour),
			scored("top", 95, 1, 0),
			scored("tie-new-b", 80, 5, time.Minute),
		}, 10)

		gt.Array(t, ids(results)).Equal([]string{"top", "tie-important", "tie-new", "tie-new-b", "tie-old", "low"})
	})

	t.Run("never returns more than topK", func(t *testing.T) {
		p := recall.DefaultPolicy()
		p.FloorImportance = 0
		candidates := make([]*model.ScoredMemory, 0, 20)
		for i := range 20 {
			candidates = append(candidates, scored(fmt.Sprintf("m%02d", i), 90-i, 5, 0))
		}

		gt.Array(t, p.Rank(candidates, 3)).Length(3)
		gt.Array(t, p.Rank(candidates, 0)).Length(10)
		gt.Array(t, p.Rank(nil, 3)).Length(0)
	})

	t.Run("MinScore filters candidates", func(t *testing.T) {
		p := recall.DefaultPolicy()
		p.MinScore = 50
		results := p.Rank([]*model.ScoredMemory{
			scored("keep", 50, 0, 0),
			scored("drop", 49, 10, 0),
		}, 5)
		gt.Array(t, ids(results)).Equal([]string{"keep"})

		p.MinScore = 101
		gt.Array(t, p.Rank([]*model.ScoredMemory{scored("x", 100, 0, 0)}, 5)).Length(0)
	})

	t.Run("importance weight blends into the primary key", func(t *testing.T) {
		p := recall.DefaultPolicy()
		p.ImportanceWeight = 2
		results := p.Rank([]*model.ScoredMemory{
			scored("similar", 80, 0, 0),
			scored("important", 70, 10, 0),
		}, 2)
		gt.Array(t, ids(results)).Equal([]string{"important", "similar"})
	})

	t.Run("important near-miss replaces the lowest unimportant memory", func(t *testing.T) {
		p := recall.DefaultPolicy()
		results := p.Rank([]*model.ScoredMemory{
			scored("a", 90, 3, 0),
			scored("b", 85, 3, 0),
			scored("c", 80, 3, 0),
			scored("near-miss", 77, 9, 0),
			scored("far-miss", 60, 10, 0),
		}, 3)
		gt.Array(t, ids(results)).Equal([]string{"a", "b", "near-miss"})
	})

	t.Run("floor leaves important included memories alone", func(t *testing.T) {
		p := recall.DefaultPolicy()
		results := p.Rank([]*model.ScoredMemory{
			scored("a", 90, 9, 0),
			scored("b", 85, 8, 0),
			scored("near-miss", 84, 10, 0),
		}, 2)
		gt.Array(t, ids(results)).Equal([]string{"a", "b"})
	})

	t.Run("floor reaches near-misses ranked below a far miss by the blended key", func(t *testing.T) {
		p := recall.DefaultPolicy()
		p.ImportanceWeight = 1
		results := p.Rank([]*model.ScoredMemory{
			scored("a", 95, 0, 0),         // key 95
			scored("b", 80, 7, 0),         // key 87, cut-off score 80
			scored("far-miss", 74, 10, 0), // key 84, outside the margin
			scored("near-miss", 75, 8, 0), // key 83, within the margin
		}, 2)
		gt.Array(t, ids(results)).Equal([]string{"a", "near-miss"})
	})

	t.Run("floor outside the margin has no effect", func(t *testing.T) {
		p := recall.DefaultPolicy()
		results := p.Rank([]*model.ScoredMemory{
			scored("a", 90, 0, 0),
			scored("b", 80, 0, 0),
			scored("important", 74, 10, 0),
		}, 2)
		gt.Array(t, ids(results)).Equal([]string{"a", "b"})
	})
}

func TestPolicy_PoolSize(t *testing.T) {
	p := recall.DefaultPolicy()
	gt.Number(t, p.PoolSize(5)).Equal(30)
	gt.Number(t, p.PoolSize(20)).Equal(60)

	p.CandidateMultiplier = 0
	p.MinCandidates = 0
	gt.Number(t, p.PoolSize(7)).Equal(7)
}

func axis(values ...float32) model.Embedding {
	e := make(model.Embedding, 4)
	copy(e, values)
	return e
}

func TestEngine_Search(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()

	add := func(campaignID int64, content string, importance types.Importance, e model.Embedding) *model.Memory {
		t.Helper()
		created, err := repo.Memory().Create(ctx, campaignID, &model.Memory{
			Type:       types.MemoryTypeNarration,
			Content:    content,
			Embedding:  e,
			Importance: importance,
		})
		gt.NoError(t, err).Required()
		return created
	}

	dragon := add(1, "A red dragon sleeps in the mountain", 5, axis(1, 0.2))
	add(1, "The tavern serves cheap ale", 5, axis(0, 1))
	add(1, "Opposite of everything", 5, axis(-1, 0))
	add(2, "Another campaign's dragon", 10, axis(1, 0))

	engine := recall.New(repo.Memory(), recall.DefaultPolicy())

	t.Run("returns campaign memories with bounded scores", func(t *testing.T) {
		results, err := engine.Search(ctx, 1, axis(1, 0), 10)
		gt.NoError(t, err).Required()
		gt.Array(t, results).Length(3).Required()

		gt.Value(t, results[0].Memory.ID).Equal(dragon.ID)
		gt.Number(t, results[0].Score).Equal(98)
		for _, r := range results {
			gt.Value(t, r.Memory.CampaignID).Equal(int64(1))
			gt.Bool(t, r.Score >= 0 && r.Score <= 100).True()
		}
		gt.Number(t, results[2].Score).Equal(0)
	})

	t.Run("respects topK", func(t *testing.T) {
		results, err := engine.Search(ctx, 1, axis(1, 0), 1)
		gt.NoError(t, err).Required()
		gt.Array(t, results).Length(1)
	})

	t.Run("empty campaign yields empty result", func(t *testing.T) {
		results, err := engine.Search(ctx, 3, axis(1, 0), 5)
		gt.NoError(t, err).Required()
		gt.Array(t, results).Length(0)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		_, err := engine.Search(ctx, 0, axis(1), 5)
		gt.Error(t, err).Is(model.ErrValidation)

		_, err = engine.Search(ctx, 1, nil, 5)
		gt.Error(t, err).Is(model.ErrValidation)

		_, err = engine.Search(ctx, 1, model.Embedding{1, 0}, 5)
		gt.Error(t, err).Is(model.ErrDimensionMismatch)
	})
}
