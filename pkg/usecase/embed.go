package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/loremind/pkg/domain/model"
	"github.com/secmon-lab/loremind/pkg/service/embedding"
)

// embedder applies the embed timeout and guarantees that every failure
// other than invalid input is reported as ErrEmbeddingProvider
type embedder struct {
	svc     embedding.Service
	timeout time.Duration
}

func (e *embedder) embed(ctx context.Context, text string) (model.Embedding, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	vector, err := e.svc.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, model.ErrValidation) || errors.Is(err, model.ErrEmbeddingProvider) {
			return nil, err
		}
		return nil, goerr.Wrap(fmt.Errorf("%w: %w", model.ErrEmbeddingProvider, err), "embedding failed")
	}

	if vector.Dimension() != e.svc.Dimension() || !vector.IsFinite() {
		return nil, goerr.Wrap(model.ErrEmbeddingProvider, "embedding service returned a malformed vector",
			goerr.V(model.DimensionKey, vector.Dimension()),
			goerr.V("expected", e.svc.Dimension()))
	}
	return vector, nil
}
