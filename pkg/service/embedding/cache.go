package embedding

import (
	"context"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/loremind/pkg/domain/model"
	"github.com/secmon-lab/loremind/pkg/utils/logging"
)

type cachedService struct {
	Service
	cache *ristretto.Cache
}

// WithCache wraps svc with an in-process cache keyed by the trimmed input
// text. size is the number of embeddings kept; size <= 0 returns svc as is.
func WithCache(svc Service, size int64) (Service, error) {
	if size <= 0 {
		return svc, nil
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding cache", goerr.V("size", size))
	}

	return &cachedService{
		Service: svc,
		cache:   cache,
	}, nil
}

func (s *cachedService) Embed(ctx context.Context, text string) (model.Embedding, error) {
	key, err := normalizeInput(text)
	if err != nil {
		return nil, err
	}

	if v, ok := s.cache.Get(key); ok {
		if cached, ok := v.(model.Embedding); ok {
			return cached.Clone(), nil
		}
	}

	result, err := s.Service.Embed(ctx, key)
	if err != nil {
		return nil, err
	}

	if !s.cache.Set(key, result.Clone(), 1) {
		logging.From(ctx).Debug("embedding cache rejected entry", "text_length", len(key))
	}
	s.cache.Wait()

	return result, nil
}
