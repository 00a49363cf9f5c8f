package record

import (
	"context"
	"errors"

	"github.com/kailas-cloud/ragmcp/internal/db"
)

// --- Mocks ---

// memStore is an in-memory store without native ranking.
type memStore struct {
	dims    map[string]int
	rows    map[string][]db.RecordRow
	failErr error
	inserts int
}

func newMemStore() *memStore {
	return &memStore{dims: map[string]int{}, rows: map[string][]db.RecordRow{}}
}

func (m *memStore) EnsureCollection(_ context.Context, name string) error {
	if m.failErr != nil {
		return m.failErr
	}
	if _, ok := m.dims[name]; !ok {
		m.dims[name] = 0
	}
	return nil
}

func (m *memStore) Collection(_ context.Context, name string) (db.CollectionMeta, error) {
	if m.failErr != nil {
		return db.CollectionMeta{}, m.failErr
	}
	d, ok := m.dims[name]
	if !ok {
		return db.CollectionMeta{}, db.ErrCollectionNotFound
	}
	return db.CollectionMeta{Name: name, Dimensions: d}, nil
}

func (m *memStore) Collections(_ context.Context) ([]string, error) {
	if m.failErr != nil {
		return nil, m.failErr
	}
	var out []string
	for n := range m.dims {
		out = append(out, n)
	}
	return out, nil
}

func (m *memStore) InsertRecord(_ context.Context, collection string, row db.RecordRow) error {
	m.inserts++
	if m.failErr != nil {
		return m.failErr
	}
	d, ok := m.dims[collection]
	if !ok {
		return db.ErrCollectionNotFound
	}
	if d == 0 {
		m.dims[collection] = len(row.Embedding)
	} else if d != len(row.Embedding) {
		return &db.DimensionError{Collection: collection, Stored: d, Got: len(row.Embedding)}
	}
	m.rows[collection] = append(m.rows[collection], row)
	return nil
}

func (m *memStore) ScanRecords(_ context.Context, collection string, fn func(db.RecordRow) error) error {
	if m.failErr != nil {
		return m.failErr
	}
	for _, r := range m.rows[collection] {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) CountRecords(_ context.Context, collection string) (int, error) {
	if m.failErr != nil {
		return 0, m.failErr
	}
	return len(m.rows[collection]), nil
}

var errBackend = errors.New("connection refused")
