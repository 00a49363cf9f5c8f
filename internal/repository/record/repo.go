package record

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/kailas-cloud/ragmcp/internal/db"
	"github.com/kailas-cloud/ragmcp/internal/domain"
	"github.com/kailas-cloud/ragmcp/internal/domain/vector"
)

// store is the consumer interface for records (ISP).
type store interface {
	EnsureCollection(ctx context.Context, name string) error
	Collection(ctx context.Context, name string) (db.CollectionMeta, error)
	Collections(ctx context.Context) ([]string, error)
	InsertRecord(ctx context.Context, collection string, row db.RecordRow) error
	ScanRecords(ctx context.Context, collection string, fn func(db.RecordRow) error) error
	CountRecords(ctx context.Context, collection string) (int, error)
}

// Repo is the vector store: append-only records per collection with exact
// cosine search. Uses the backend's native ranking when it has one.
type Repo struct {
	store  store
	ranker db.Ranker
}

// New creates a record repository.
func New(s store) *Repo {
	r := &Repo{store: s}
	if rk, ok := s.(db.Ranker); ok {
		r.ranker = rk
	}
	return r
}

// EnsureCollection creates the collection if missing. Idempotent.
func (r *Repo) EnsureCollection(ctx context.Context, name string) error {
	if err := r.store.EnsureCollection(ctx, name); err != nil {
		return unavailable("ensure collection "+name, err)
	}
	return nil
}

// Upsert appends a record. The first write fixes the collection's dimensionality.
func (r *Repo) Upsert(ctx context.Context, collection string, rec domain.Record) error {
	row := db.RecordRow{
		ID:         rec.ID(),
		Text:       rec.Text(),
		SourcePath: rec.SourcePath(),
		Embedding:  rec.Embedding(),
	}

	err := r.store.InsertRecord(ctx, collection, row)
	if errors.Is(err, db.ErrCollectionNotFound) {
		if err := r.EnsureCollection(ctx, collection); err != nil {
			return err
		}
		err = r.store.InsertRecord(ctx, collection, row)
	}
	if err != nil {
		return mapInsertError(collection, err)
	}
	return nil
}

// Search returns at most limit records by descending cosine similarity.
// Ties keep insertion order. A missing or empty collection yields no results.
func (r *Repo) Search(ctx context.Context, collection string, query []float32, limit int) ([]domain.SearchResult, error) {
	results := []domain.SearchResult{}
	if limit <= 0 {
		return results, nil
	}

	meta, err := r.store.Collection(ctx, collection)
	if errors.Is(err, db.ErrCollectionNotFound) {
		return results, nil
	}
	if err != nil {
		return nil, unavailable("load collection "+collection, err)
	}
	if meta.Dimensions == 0 {
		return results, nil
	}
	if meta.Dimensions != len(query) {
		return nil, &domain.DimMismatchError{Collection: collection, Expected: meta.Dimensions, Got: len(query)}
	}

	if r.ranker != nil {
		rows, err := r.ranker.RankRecords(ctx, collection, query, limit)
		if err != nil {
			return nil, unavailable("rank records", err)
		}
		for _, row := range rows {
			results = append(results, domain.SearchResult{Text: row.Text, SourcePath: row.SourcePath, Score: row.Score})
		}
		return results, nil
	}

	return r.scan(ctx, collection, query, limit)
}

func (r *Repo) scan(ctx context.Context, collection string, query []float32, limit int) ([]domain.SearchResult, error) {
	var all []domain.SearchResult
	err := r.store.ScanRecords(ctx, collection, func(row db.RecordRow) error {
		score, err := vector.Cosine(query, row.Embedding)
		if err != nil {
			return fmt.Errorf("record %s: %w", row.ID, err)
		}
		all = append(all, domain.SearchResult{Text: row.Text, SourcePath: row.SourcePath, Score: score})
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrVectorDimMismatch) {
			return nil, err
		}
		return nil, unavailable("scan records", err)
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if len(all) > limit {
		all = all[:limit]
	}
	if all == nil {
		return []domain.SearchResult{}, nil
	}
	return all, nil
}

// Count returns the number of records in the collection, 0 if it does not exist.
func (r *Repo) Count(ctx context.Context, collection string) (int, error) {
	n, err := r.store.CountRecords(ctx, collection)
	if err != nil {
		return 0, unavailable("count records", err)
	}
	return n, nil
}

// Info returns collection metadata and size.
func (r *Repo) Info(ctx context.Context, collection string) (domain.CollectionInfo, error) {
	meta, err := r.store.Collection(ctx, collection)
	if errors.Is(err, db.ErrCollectionNotFound) {
		return domain.CollectionInfo{}, fmt.Errorf("collection %q: %w", collection, domain.ErrNotFound)
	}
	if err != nil {
		return domain.CollectionInfo{}, unavailable("load collection "+collection, err)
	}
	n, err := r.Count(ctx, collection)
	if err != nil {
		return domain.CollectionInfo{}, err
	}
	return domain.CollectionInfo{Name: collection, Dimensions: meta.Dimensions, Count: n}, nil
}

// Collections lists collection names.
func (r *Repo) Collections(ctx context.Context) ([]string, error) {
	names, err := r.store.Collections(ctx)
	if err != nil {
		return nil, unavailable("list collections", err)
	}
	return names, nil
}

func mapInsertError(collection string, err error) error {
	var de *db.DimensionError
	if errors.As(err, &de) {
		return &domain.DimMismatchError{Collection: collection, Expected: de.Stored, Got: de.Got}
	}
	return unavailable("insert record", err)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}
