package model

import "github.com/m-mizutani/goerr/v2"

// Memory subsystem errors. Callers match them with errors.Is.
var (
	ErrValidation        = goerr.New("validation failed")
	ErrNotFound          = goerr.New("memory not found")
	ErrOwnership         = goerr.New("memory belongs to another campaign")
	ErrEmbeddingProvider = goerr.New("embedding provider failed")
	ErrDuplicateSource   = goerr.New("memory already recorded for source")

	// ErrDimensionMismatch is a validation error
	ErrDimensionMismatch = goerr.Wrap(ErrValidation, "embedding dimension mismatch")
)

// Context keys for error values
const (
	CampaignIDKey = "campaign_id"
	MemoryIDKey   = "memory_id"
	SourceRefKey  = "source_ref"
	DimensionKey  = "dimension"
)
