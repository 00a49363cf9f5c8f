package redis

import (
	"context"
	"fmt"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/ragmcp/internal/db"
	"github.com/kailas-cloud/ragmcp/internal/domain/vector"
)

const scanPageSize = 256

const (
	fieldText       = "text"
	fieldSourcePath = "source_path"
	fieldEmbedding  = "embedding"
)

// InsertRecord checks dimensionality, then writes the record hash and appends
// its id in a single DoMulti round-trip.
func (s *Store) InsertRecord(ctx context.Context, collection string, row db.RecordRow) error {
	ok, err := s.exists(ctx, collection)
	if err != nil {
		return &db.Error{Op: db.OpInsert, Err: err}
	}
	if !ok {
		return db.ErrCollectionNotFound
	}

	stored, err := s.claimDimensions(ctx, collection, len(row.Embedding))
	if err != nil {
		return &db.Error{Op: db.OpInsert, Err: err}
	}
	if stored != len(row.Embedding) {
		return &db.DimensionError{Collection: collection, Stored: stored, Got: len(row.Embedding)}
	}

	cmds := rueidis.Commands{
		s.b().Hset().Key(s.recordKey(collection, row.ID)).FieldValue().
			FieldValue(fieldText, row.Text).
			FieldValue(fieldSourcePath, row.SourcePath).
			FieldValue(fieldEmbedding, rueidis.BinaryString(vector.Encode(row.Embedding))).
			Build(),
		s.b().Rpush().Key(s.idsKey(collection)).Element(row.ID).Build(),
	}
	for _, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return &db.Error{Op: db.OpInsert, Err: fmt.Errorf("record %s: %w", row.ID, err)}
		}
	}
	return nil
}

// ScanRecords pages through the id list and fetches record hashes per page.
func (s *Store) ScanRecords(ctx context.Context, collection string, fn func(db.RecordRow) error) error {
	for start := int64(0); ; start += scanPageSize {
		cmd := s.b().Lrange().Key(s.idsKey(collection)).Start(start).Stop(start + scanPageSize - 1).Build()
		ids, err := s.do(ctx, cmd).AsStrSlice()
		if err != nil {
			return &db.Error{Op: db.OpScan, Err: err}
		}
		if len(ids) == 0 {
			return nil
		}

		rows, err := s.fetchRows(ctx, collection, ids)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if err := fn(r); err != nil {
				return err
			}
		}

		if len(ids) < scanPageSize {
			return nil
		}
	}
}

// CountRecords returns the id list length, 0 for a missing collection.
func (s *Store) CountRecords(ctx context.Context, collection string) (int, error) {
	cmd := s.b().Llen().Key(s.idsKey(collection)).Build()
	n, err := s.do(ctx, cmd).AsInt64()
	if err != nil {
		return 0, &db.Error{Op: db.OpCount, Err: err}
	}
	return int(n), nil
}

func (s *Store) fetchRows(ctx context.Context, collection string, ids []string) ([]db.RecordRow, error) {
	cmds := make(rueidis.Commands, len(ids))
	for i, id := range ids {
		cmds[i] = s.b().Hgetall().Key(s.recordKey(collection, id)).Build()
	}

	results := s.client.DoMulti(ctx, cmds...)
	rows := make([]db.RecordRow, 0, len(results))
	for i, res := range results {
		m, err := res.AsStrMap()
		if err != nil {
			return nil, &db.Error{Op: db.OpScan, Err: fmt.Errorf("record %s: %w", ids[i], err)}
		}
		if len(m) == 0 {
			continue
		}
		vec, err := vector.Decode([]byte(m[fieldEmbedding]))
		if err != nil {
			return nil, &db.Error{Op: db.OpScan, Err: fmt.Errorf("record %s: %w", ids[i], err)}
		}
		rows = append(rows, db.RecordRow{
			ID:         ids[i],
			Text:       m[fieldText],
			SourcePath: m[fieldSourcePath],
			Embedding:  vec,
		})
	}
	return rows, nil
}
