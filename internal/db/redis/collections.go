package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/ragmcp/internal/db"
)

const fieldDimensions = "dimensions"

// EnsureCollection registers the collection name. Idempotent.
func (s *Store) EnsureCollection(ctx context.Context, name string) error {
	cmd := s.b().Sadd().Key(s.collectionsKey()).Member(name).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpEnsure, Err: err}
	}
	return nil
}

// Collection returns collection metadata.
func (s *Store) Collection(ctx context.Context, name string) (db.CollectionMeta, error) {
	ok, err := s.exists(ctx, name)
	if err != nil {
		return db.CollectionMeta{}, &db.Error{Op: db.OpCollection, Err: err}
	}
	if !ok {
		return db.CollectionMeta{}, db.ErrCollectionNotFound
	}

	dims, err := s.dimensions(ctx, name)
	if err != nil {
		return db.CollectionMeta{}, &db.Error{Op: db.OpCollection, Err: err}
	}
	return db.CollectionMeta{Name: name, Dimensions: dims}, nil
}

// Collections lists collection names in lexical order.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	cmd := s.b().Smembers().Key(s.collectionsKey()).Build()
	names, err := s.do(ctx, cmd).AsStrSlice()
	if err != nil {
		return nil, &db.Error{Op: db.OpCollections, Err: err}
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) exists(ctx context.Context, name string) (bool, error) {
	cmd := s.b().Sismember().Key(s.collectionsKey()).Member(name).Build()
	n, err := s.do(ctx, cmd).AsInt64()
	if err != nil {
		return false, err //nolint:wrapcheck // wrapped by callers with Op
	}
	return n == 1, nil
}

// dimensions returns 0 while the collection has no records.
func (s *Store) dimensions(ctx context.Context, name string) (int, error) {
	cmd := s.b().Hget().Key(s.metaKey(name)).Field(fieldDimensions).Build()
	raw, err := s.do(ctx, cmd).ToString()
	if rueidis.IsRedisNil(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err //nolint:wrapcheck // wrapped by callers with Op
	}
	dims, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse dimensions %q: %w", raw, err)
	}
	return dims, nil
}

// claimDimensions fixes dims on first write (HSETNX) and returns the stored value.
func (s *Store) claimDimensions(ctx context.Context, name string, dims int) (int, error) {
	cmd := s.b().Hsetnx().Key(s.metaKey(name)).Field(fieldDimensions).Value(strconv.Itoa(dims)).Build()
	set, err := s.do(ctx, cmd).AsInt64()
	if err != nil {
		return 0, err //nolint:wrapcheck // wrapped by callers with Op
	}
	if set == 1 {
		return dims, nil
	}
	return s.dimensions(ctx, name)
}
