package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Chunk is a bounded passage of source text produced by the chunker.
type Chunk struct {
	Text       string
	SourcePath string
}

// Record is a stored chunk with its embedding (immutable value object).
type Record struct {
	id         string
	text       string
	sourcePath string
	embedding  []float32
}

// NewRecord validates and creates a Record with a fresh UUID.
func NewRecord(text, sourcePath string, embedding []float32) (Record, error) {
	if text == "" {
		return Record{}, fmt.Errorf("record text is required: %w", ErrInvalidArgument)
	}
	if len(embedding) == 0 {
		return Record{}, fmt.Errorf("record embedding is required: %w", ErrInvalidArgument)
	}
	return Record{
		id:         uuid.NewString(),
		text:       text,
		sourcePath: sourcePath,
		embedding:  embedding,
	}, nil
}

// ReconstructRecord creates a Record without validation (storage hydration).
func ReconstructRecord(id, text, sourcePath string, embedding []float32) Record {
	return Record{id: id, text: text, sourcePath: sourcePath, embedding: embedding}
}

// ID returns the record identifier.
func (r *Record) ID() string { return r.id }

// Text returns the chunk text.
func (r *Record) Text() string { return r.text }

// SourcePath returns the document the chunk came from.
func (r *Record) SourcePath() string { return r.sourcePath }

// Embedding returns the embedding vector.
func (r *Record) Embedding() []float32 { return r.embedding }

// SearchResult is a single ranked hit. Score is the cosine similarity to the query.
type SearchResult struct {
	Text       string  `json:"text"`
	SourcePath string  `json:"sourcePath"`
	Score      float64 `json:"score"`
}

// CollectionInfo describes a stored collection.
type CollectionInfo struct {
	Name       string
	Dimensions int
	Count      int
}
