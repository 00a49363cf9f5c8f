package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kailas-cloud/ragmcp/internal/db"
	"github.com/kailas-cloud/ragmcp/internal/domain/vector"
)

// InsertRecord checks dimensionality and appends the row in one transaction.
func (s *Store) InsertRecord(ctx context.Context, collection string, row db.RecordRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &db.Error{Op: db.OpInsert, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	var dims int
	err = tx.QueryRowContext(ctx, `SELECT dimensions FROM collections WHERE name = ?`, collection).Scan(&dims)
	if errors.Is(err, sql.ErrNoRows) {
		return db.ErrCollectionNotFound
	}
	if err != nil {
		return &db.Error{Op: db.OpInsert, Err: err}
	}

	switch {
	case dims == 0:
		if _, err := tx.ExecContext(ctx,
			`UPDATE collections SET dimensions = ? WHERE name = ?`, len(row.Embedding), collection); err != nil {
			return &db.Error{Op: db.OpInsert, Err: err}
		}
	case dims != len(row.Embedding):
		return &db.DimensionError{Collection: collection, Stored: dims, Got: len(row.Embedding)}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO records (id, collection, text, source_path, embedding) VALUES (?, ?, ?, ?, ?)`,
		row.ID, collection, row.Text, row.SourcePath, vector.Encode(row.Embedding))
	if err != nil {
		return &db.Error{Op: db.OpInsert, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &db.Error{Op: db.OpInsert, Err: err}
	}
	return nil
}

// ScanRecords streams records in insertion order.
func (s *Store) ScanRecords(ctx context.Context, collection string, fn func(db.RecordRow) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, source_path, embedding FROM records WHERE collection = ? ORDER BY seq`, collection)
	if err != nil {
		return &db.Error{Op: db.OpScan, Err: err}
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return &db.Error{Op: db.OpScan, Err: err}
	}
	return nil
}

// CountRecords returns the number of records, 0 for a missing collection.
func (s *Store) CountRecords(ctx context.Context, collection string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE collection = ?`, collection).Scan(&n); err != nil {
		return 0, &db.Error{Op: db.OpCount, Err: err}
	}
	return n, nil
}

// RankRecords orders records by vec_cosine inside SQLite. Ties keep insertion order.
func (s *Store) RankRecords(ctx context.Context, collection string, query []float32, limit int) ([]db.ScoredRow, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, source_path, embedding, vec_cosine(embedding, ?) AS score
		FROM records WHERE collection = ?
		ORDER BY score DESC, seq ASC
		LIMIT ?`, vector.Encode(query), collection, limit)
	if err != nil {
		return nil, &db.Error{Op: db.OpRank, Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []db.ScoredRow
	for rows.Next() {
		var (
			r     db.ScoredRow
			blob  []byte
			score sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.Text, &r.SourcePath, &blob, &score); err != nil {
			return nil, &db.Error{Op: db.OpRank, Err: err}
		}
		if r.Embedding, err = vector.Decode(blob); err != nil {
			return nil, &db.Error{Op: db.OpRank, Err: err}
		}
		r.Score = score.Float64
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &db.Error{Op: db.OpRank, Err: err}
	}
	return out, nil
}

func scanRow(rows *sql.Rows) (db.RecordRow, error) {
	var (
		r    db.RecordRow
		blob []byte
	)
	if err := rows.Scan(&r.ID, &r.Text, &r.SourcePath, &blob); err != nil {
		return db.RecordRow{}, &db.Error{Op: db.OpScan, Err: err}
	}
	vec, err := vector.Decode(blob)
	if err != nil {
		return db.RecordRow{}, &db.Error{Op: db.OpScan, Err: fmt.Errorf("record %s: %w", r.ID, err)}
	}
	r.Embedding = vec
	return r, nil
}
