package embedding

import (
	"context"

	"github.com/secmon-lab/loremind/pkg/domain/model"
)

// Service turns text into a fixed-length embedding
type Service interface {
	// Embed returns the embedding of text. Blank text is a validation error;
	// any provider failure is reported as model.ErrEmbeddingProvider.
	Embed(ctx context.Context, text string) (model.Embedding, error)

	// Dimension returns the length of every vector Embed produces
	Dimension() int
}
