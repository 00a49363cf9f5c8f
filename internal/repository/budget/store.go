package budget

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/kailas-cloud/ragmcp/internal/db"
)

// Store keeps budget counters as decimal strings in the KV table.
type Store struct {
	kv db.KVStore
}

// New creates a budget store.
func New(kv db.KVStore) *Store {
	return &Store{kv: kv}
}

// Load returns the counter at key. A missing key reads as 0.
func (s *Store) Load(ctx context.Context, key string) (int64, error) {
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("budget get %s: %w", key, err)
	}

	val, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("budget get %s parse: %w", key, err)
	}
	return val, nil
}

// Save overwrites the counter at key.
func (s *Store) Save(ctx context.Context, key string, val int64) error {
	if err := s.kv.Set(ctx, key, []byte(strconv.FormatInt(val, 10))); err != nil {
		return fmt.Errorf("budget set %s: %w", key, err)
	}
	return nil
}
