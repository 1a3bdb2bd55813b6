package usecase_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/loremind/pkg/domain/model"
	"github.com/secmon-lab/loremind/pkg/repository/memory"
	"github.com/secmon-lab/loremind/pkg/service/embedding"
	"github.com/secmon-lab/loremind/pkg/usecase"
)

// flakyEmbedder wraps the hash embedder and fails on demand
type flakyEmbedder struct {
	base     embedding.Service
	failAll  atomic.Bool
	failWord string
	calls    atomic.Int32
	block    bool

	// gate, when set, holds every call until it is closed. started
	// receives one value per held call.
	gate    chan struct{}
	started chan struct{}
}

func newFlakyEmbedder(t *testing.T) *flakyEmbedder {
	t.Helper()
	base, err := embedding.NewHash(model.EmbeddingDimension)
	gt.NoError(t, err).Required()
	return &flakyEmbedder{base: base}
}

func (f *flakyEmbedder) Dimension() int {
	return f.base.Dimension()
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) (model.Embedding, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.gate != nil {
		f.started <- struct{}{}
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failAll.Load() || (f.failWord != "" && strings.Contains(text, f.failWord)) {
		return nil, errors.New("provider unavailable")
	}
	return f.base.Embed(ctx, text)
}

func newTestUseCases(t *testing.T, emb embedding.Service, opts ...usecase.Option) (*usecase.UseCases, *memory.Memory) {
	t.Helper()
	repo := memory.New()
	uc, err := usecase.New(repo, emb, opts...)
	gt.NoError(t, err).Required()
	return uc, repo
}

func containsMemory(memories []*model.Memory, id model.MemoryID) bool {
	for _, m := range memories {
		if m.ID == id {
			return true
		}
	}
	return false
}

func containsScored(results []*model.ScoredMemory, id model.MemoryID) bool {
	for _, r := range results {
		if r.Memory.ID == id {
			return true
		}
	}
	return false
}
