package ragmcp

import "github.com/kailas-cloud/ragmcp/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrNotFound             = domain.ErrNotFound
	ErrInvalidArgument      = domain.ErrInvalidArgument
	ErrUnsupportedContent   = domain.ErrUnsupportedContent
	ErrVectorDimMismatch    = domain.ErrVectorDimMismatch
	ErrEmbeddingUnavailable = domain.ErrEmbeddingUnavailable
	ErrStoreUnavailable     = domain.ErrStoreUnavailable
)
