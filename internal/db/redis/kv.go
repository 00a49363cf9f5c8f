package redis

import (
	"context"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/ragmcp/internal/db"
)

var _ db.MultiGetter = (*Store)(nil)

// Get returns the value under kv:{key} or db.ErrKeyNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.do(ctx, s.b().Get().Key(s.kvKey(key)).Build()).AsBytes()
	switch {
	case rueidis.IsRedisNil(err):
		return nil, db.ErrKeyNotFound
	case err != nil:
		return nil, &db.Error{Op: db.OpGet, Err: err}
	}
	return v, nil
}

// GetMany reads keys with a single MGET.
func (s *Store) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.kvKey(k)
	}
	msgs, err := s.do(ctx, s.b().Mget().Key(full...).Build()).ToArray()
	if err != nil {
		return nil, &db.Error{Op: db.OpGet, Err: err}
	}
	out := make([][]byte, len(keys))
	for i := range msgs {
		if i >= len(out) || msgs[i].IsNil() {
			continue
		}
		if out[i], err = msgs[i].AsBytes(); err != nil {
			return nil, &db.Error{Op: db.OpGet, Err: err}
		}
	}
	return out, nil
}

// Set overwrites kv:{key}. Values are stored as binary strings.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	cmd := s.b().Set().Key(s.kvKey(key)).Value(rueidis.BinaryString(value)).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpSet, Err: err}
	}
	return nil
}
