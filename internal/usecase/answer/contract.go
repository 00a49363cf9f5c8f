package answer

import (
	"context"

	"github.com/kailas-cloud/ragmcp/internal/domain"
)

// Retriever returns the passages closest to a question.
type Retriever interface {
	Retrieve(ctx context.Context, query, collection string, limit int, threshold float64) ([]domain.SearchResult, error)
}

// Completer turns a system and user prompt into model output.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}
