package ingest

import (
	"context"

	"github.com/kailas-cloud/ragmcp/internal/domain"
)

// Chunker splits text into source-tagged chunks.
type Chunker interface {
	Chunks(text, sourcePath string) []domain.Chunk
}

// Repository defines the storage contract for ingestion.
type Repository interface {
	EnsureCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, collection string, rec domain.Record) error
}
