package retrieve

import (
	"context"

	"github.com/kailas-cloud/ragmcp/internal/domain"
)

// Searcher ranks stored records against a query vector.
type Searcher interface {
	Search(ctx context.Context, collection string, query []float32, limit int) ([]domain.SearchResult, error)
}
