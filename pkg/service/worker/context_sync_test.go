package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/loremind/pkg/domain/model"
	"github.com/secmon-lab/loremind/pkg/repository/memory"
	"github.com/secmon-lab/loremind/pkg/service/embedding"
	"github.com/secmon-lab/loremind/pkg/service/worker"
	"github.com/secmon-lab/loremind/pkg/usecase"
)

// mockLoader is a mock implementation of worker.ContextLoader for testing
type mockLoader struct {
	mu      sync.Mutex
	entries []*model.ContextEntry
	err     error
	calls   int
}

func (m *mockLoader) set(entries []*model.ContextEntry, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = entries
	m.err = err
}

func (m *mockLoader) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockLoader) Load(ctx context.Context, campaignID int64) ([]*model.ContextEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}

	result := make([]*model.ContextEntry, len(m.entries))
	for i, e := range m.entries {
		copied := *e
		result[i] = &copied
	}
	return result, nil
}

func setup(t *testing.T) (*memory.Memory, *usecase.UseCases) {
	t.Helper()
	repo := memory.New()
	emb, err := embedding.NewHash(model.EmbeddingDimension)
	gt.NoError(t, err).Required()
	uc, err := usecase.New(repo, emb)
	gt.NoError(t, err).Required()
	return repo, uc
}

func TestSync(t *testing.T) {
	ctx := context.Background()
	repo, uc := setup(t)
	loader := &mockLoader{}
	loader.set([]*model.ContextEntry{
		{ID: "npc-1", Title: "Mira", Content: "A travelling bard"},
		{ID: "loc-1", Title: "Ironhold", Content: "A mountain fortress"},
	}, nil)

	result, err := worker.Sync(ctx, repo, loader, uc.Memory, 4)
	gt.NoError(t, err).Required()
	gt.Number(t, result.Created).Equal(2)

	stored, err := repo.ContextEntry().List(ctx, 4)
	gt.NoError(t, err).Required()
	gt.Array(t, stored).Length(2)
	for _, e := range stored {
		gt.Number(t, e.CampaignID).Equal(int64(4))
		gt.Bool(t, e.UpdatedAt.IsZero()).False()
	}

	// a new entry in the source is picked up, existing ones are not duplicated
	loader.set(append(loader.entries, &model.ContextEntry{ID: "lore-1", Title: "The First Age", Content: "Gods walked the earth"}), nil)
	result, err = worker.Sync(ctx, repo, loader, uc.Memory, 4)
	gt.NoError(t, err).Required()
	gt.Number(t, result.Created).Equal(1)
	gt.Number(t, result.Count).Equal(3)

	t.Run("loader failure", func(t *testing.T) {
		failing := &mockLoader{}
		failing.set(nil, errors.New("bucket not found"))
		_, err := worker.Sync(ctx, repo, failing, uc.Memory, 4)
		gt.Error(t, err)
	})
}

func TestContextSyncWorker(t *testing.T) {
	repo, uc := setup(t)
	loader := &mockLoader{}
	loader.set([]*model.ContextEntry{{ID: "npc-1", Title: "Mira", Content: "A travelling bard"}}, nil)

	w := worker.NewContextSyncWorker(repo, loader, uc.Memory, []int64{1, 2}, 20*time.Millisecond)
	gt.NoError(t, w.Start(context.Background())).Required()

	deadline := time.Now().Add(2 * time.Second)
	for loader.callCount() < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	w.Stop()

	gt.Number(t, loader.callCount()).GreaterOrEqual(4)
	for _, campaignID := range []int64{1, 2} {
		count, err := uc.Memory.GetMemoryCount(context.Background(), campaignID)
		gt.NoError(t, err).Required()
		gt.Number(t, count).Equal(1)
	}

	t.Run("rejects non-positive interval", func(t *testing.T) {
		w := worker.NewContextSyncWorker(repo, loader, uc.Memory, []int64{1}, 0)
		gt.Error(t, w.Start(context.Background()))
	})
}
