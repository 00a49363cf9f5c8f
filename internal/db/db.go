package db

import (
	"context"
	"time"
)

// Store is the storage facade shared by the sqlite and redis backends.
//
//nolint:interfacebloat // facade by design -- consumers use narrow sub-interfaces (ISP)
type Store interface {
	Pinger
	CollectionStore
	RecordStore
	KVStore
	// Backend names the engine for info output ("Sqlite", "Redis").
	Backend() string
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CollectionMeta describes a stored collection. Dimensions is 0 until the first insert.
type CollectionMeta struct {
	Name       string
	Dimensions int
}

// CollectionStore manages named collections.
type CollectionStore interface {
	// EnsureCollection creates the collection if missing. Idempotent.
	EnsureCollection(ctx context.Context, name string) error
	// Collection returns ErrCollectionNotFound for an unknown name.
	Collection(ctx context.Context, name string) (CollectionMeta, error)
	Collections(ctx context.Context) ([]string, error)
}

// RecordRow is a stored chunk with its embedding.
type RecordRow struct {
	ID         string
	Text       string
	SourcePath string
	Embedding  []float32
}

// RecordStore appends and scans records in insertion order.
type RecordStore interface {
	// InsertRecord fixes the collection's dimensionality on first write and
	// rejects later rows of another length with *DimensionError.
	InsertRecord(ctx context.Context, collection string, row RecordRow) error
	// ScanRecords calls fn for every record in insertion order. A non-nil
	// error from fn stops the scan and is returned.
	ScanRecords(ctx context.Context, collection string, fn func(RecordRow) error) error
	CountRecords(ctx context.Context, collection string) (int, error)
}

// ScoredRow is a record ranked by the backend.
type ScoredRow struct {
	RecordRow
	Score float64
}

// Ranker is implemented by backends that rank records by cosine similarity
// natively. Ties keep insertion order.
type Ranker interface {
	RankRecords(ctx context.Context, collection string, query []float32, limit int) ([]ScoredRow, error)
}

// KVStore provides simple key-value operations.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// MultiGetter is implemented by KV stores that read many keys in one round
// trip. The result is aligned with keys; a missing key yields nil.
type MultiGetter interface {
	GetMany(ctx context.Context, keys []string) ([][]byte, error)
}
