package embedding

import (
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/loremind/pkg/domain/model"
)

func providerError(cause error, msg string, opts ...goerr.Option) error {
	return goerr.Wrap(fmt.Errorf("%w: %w", model.ErrEmbeddingProvider, cause), msg, opts...)
}

func normalizeInput(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", goerr.Wrap(model.ErrValidation, "text to embed is empty")
	}
	return text, nil
}

// check verifies provider output before it reaches the store
func check(e model.Embedding, dimension int) error {
	if e.Dimension() != dimension {
		return goerr.Wrap(model.ErrEmbeddingProvider, "embedding has unexpected dimension",
			goerr.V(model.DimensionKey, e.Dimension()),
			goerr.V("expected", dimension))
	}
	if !e.IsFinite() {
		return goerr.Wrap(model.ErrEmbeddingProvider, "embedding contains non-finite values")
	}
	return nil
}
