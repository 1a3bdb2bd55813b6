package embedding_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/loremind/pkg/domain/model"
	"github.com/secmon-lab/loremind/pkg/service/embedding"
)

func TestWithBreaker(t *testing.T) {
	ctx := context.Background()

	var calls atomic.Int32
	var failing atomic.Bool
	failing.Store(true)
	base, err := embedding.NewLLM(&mockLLMClient{
		generateEmbeddingFn: func(ctx context.Context, dimension int, input []string) ([][]float64, error) {
			calls.Add(1)
			if failing.Load() {
				return nil, errors.New("service unavailable")
			}
			return [][]float64{{1, 0, 0, 0}}, nil
		},
	}, 4)
	gt.NoError(t, err).Required()

	svc := embedding.WithBreaker(base, embedding.BreakerConfig{
		ConsecutiveFailures: 2,
		OpenTimeout:         50 * time.Millisecond,
		HalfOpenRequests:    1,
	})

	for range 2 {
		_, err := svc.Embed(ctx, "dragon")
		gt.Error(t, err).Is(model.ErrEmbeddingProvider)
	}
	gt.Number(t, calls.Load()).Equal(int32(2))

	// open: the provider is not called
	_, err = svc.Embed(ctx, "dragon")
	gt.Error(t, err).Is(model.ErrEmbeddingProvider)
	gt.Number(t, calls.Load()).Equal(int32(2))

	t.Run("validation errors do not trip", func(t *testing.T) {
		other := embedding.WithBreaker(base, embedding.BreakerConfig{ConsecutiveFailures: 1, OpenTimeout: time.Minute})
		for range 3 {
			_, err := other.Embed(ctx, "   ")
			gt.Error(t, err).Is(model.ErrValidation)
		}
	})

	failing.Store(false)
	time.Sleep(100 * time.Millisecond)

	result, err := svc.Embed(ctx, "dragon")
	gt.NoError(t, err).Required()
	gt.Array(t, result).Length(4)
	gt.Number(t, calls.Load()).Equal(int32(3))

	t.Run("zero threshold disables the breaker", func(t *testing.T) {
		gt.Value(t, embedding.WithBreaker(base, embedding.BreakerConfig{})).Equal(base)
	})
}
