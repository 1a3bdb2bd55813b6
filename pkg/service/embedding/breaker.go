package embedding

import (
	"context"
	"errors"
	"time"

	"github.com/secmon-lab/loremind/pkg/domain/model"
	"github.com/secmon-lab/loremind/pkg/utils/logging"
	"github.com/sony/gobreaker"
)

// BreakerConfig controls when the provider circuit opens
type BreakerConfig struct {
	// ConsecutiveFailures opens the circuit; zero disables the breaker
	ConsecutiveFailures uint32
	// OpenTimeout is how long the circuit stays open before a trial call
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of trial calls allowed while half-open
	HalfOpenRequests uint32
}

// DefaultBreakerConfig returns the breaker settings used by the CLI
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

type breakerService struct {
	Service
	cb *gobreaker.CircuitBreaker
}

// WithBreaker stops calling svc after repeated provider failures and fails
// fast with model.ErrEmbeddingProvider until OpenTimeout has passed. Only
// provider errors count as failures.
func WithBreaker(svc Service, cfg BreakerConfig) Service {
	if cfg.ConsecutiveFailures == 0 {
		return svc
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedding",
		MaxRequests: max(cfg.HalfOpenRequests, 1),
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Default().Warn("embedding circuit state changed",
				"name", name,
				"from", from.String(),
				"to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, model.ErrEmbeddingProvider)
		},
	})

	return &breakerService{Service: svc, cb: cb}
}

func (s *breakerService) Embed(ctx context.Context, text string) (model.Embedding, error) {
	v, err := s.cb.Execute(func() (any, error) {
		return s.Service.Embed(ctx, text)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, providerError(err, "embedding provider unavailable")
	}
	if err != nil {
		return nil, err
	}
	return v.(model.Embedding), nil
}
