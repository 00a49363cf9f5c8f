package retrieve

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragmcp/internal/domain"
)

// Service embeds a question and returns the closest stored chunks.
type Service struct {
	repo   Searcher
	embed  domain.Embedder
	logger *zap.Logger
}

// New creates a retrieval service.
func New(repo Searcher, embed domain.Embedder) *Service {
	return &Service{repo: repo, embed: embed, logger: zap.NewNop()}
}

// WithLogger sets the logger.
func (s *Service) WithLogger(l *zap.Logger) *Service {
	if l != nil {
		s.logger = l
	}
	return s
}

// Retrieve returns up to limit results scoring at least threshold, best first.
// An empty slice (never nil) means nothing matched.
func (s *Service) Retrieve(
	ctx context.Context, query, collection string, limit int, threshold float64,
) ([]domain.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required: %w", domain.ErrInvalidArgument)
	}
	if limit < 1 {
		return nil, fmt.Errorf("limit must be positive, got %d: %w", limit, domain.ErrInvalidArgument)
	}

	vecs, err := domain.EmbedAll(ctx, s.embed, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	raw, err := s.repo.Search(ctx, collection, vecs[0], limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	kept := make([]domain.SearchResult, 0, len(raw))
	for _, r := range raw {
		if r.Score >= threshold {
			kept = append(kept, r)
		}
	}

	if len(raw) > 0 && len(kept) == 0 {
		s.logger.Warn("All results filtered by threshold",
			zap.String("collection", collection),
			zap.Int("raw_count", len(raw)),
			zap.Float64("threshold", threshold),
			zap.Float64("top_score", raw[0].Score),
		)
	}

	return kept, nil
}
