package embcache

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kailas-cloud/ragmcp/internal/db"
	dbSQLite "github.com/kailas-cloud/ragmcp/internal/db/sqlite"
	"github.com/kailas-cloud/ragmcp/internal/domain"
	"github.com/kailas-cloud/ragmcp/internal/domain/vector"
)

// --- Mocks ---

// lengthEmbedder embeds a text as [len(text)] and bills one token per text.
type lengthEmbedder struct {
	batches [][]string
	err     error
	short   bool
}

func (e *lengthEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{Embedding: res.Embeddings[0], TotalTokens: res.TotalTokens}, nil
}

func (e *lengthEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	e.batches = append(e.batches, texts)
	if e.err != nil {
		return domain.BatchEmbeddingResult{}, e.err
	}
	out := domain.BatchEmbeddingResult{TotalTokens: len(texts), PromptTokens: len(texts)}
	for _, t := range texts {
		out.Embeddings = append(out.Embeddings, []float32{float32(len(t))})
	}
	if e.short {
		out.Embeddings = out.Embeddings[:len(out.Embeddings)-1]
	}
	return out, nil
}

type memKV struct {
	data   map[string][]byte
	getErr error
	setErr error
	sets   int
}

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *memKV) Set(_ context.Context, key string, value []byte) error {
	m.sets++
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	return nil
}

// multiKV adds a batched read on top of memKV.
type multiKV struct {
	*memKV
	manyCalls int
	manyErr   error
}

func (m *multiKV) GetMany(_ context.Context, keys []string) ([][]byte, error) {
	m.manyCalls++
	if m.manyErr != nil {
		return nil, m.manyErr
	}
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = m.data[k]
	}
	return out, nil
}

// --- Tests ---

func TestEmbed_MissThenHit(t *testing.T) {
	inner := &lengthEmbedder{}
	ce := New(inner, newMemKV(), "nomic-embed-text", nil, nil)
	ctx := context.Background()

	first, err := ce.Embed(ctx, "hello")
	if err != nil {
		t.Fatalf("first Embed: %v", err)
	}
	if first.TotalTokens != 1 || first.Embedding[0] != 5 {
		t.Fatalf("unexpected miss result: %+v", first)
	}

	second, err := ce.Embed(ctx, "hello")
	if err != nil {
		t.Fatalf("second Embed: %v", err)
	}
	if second.TotalTokens != 0 {
		t.Errorf("hit must cost no tokens, got %d", second.TotalTokens)
	}
	if second.Embedding[0] != 5 {
		t.Errorf("unexpected cached vector %v", second.Embedding)
	}
	if len(inner.batches) != 1 {
		t.Errorf("provider calls = %d, want 1", len(inner.batches))
	}
}

func TestBatchEmbed_SendsOnlyMissesInOrder(t *testing.T) {
	inner := &lengthEmbedder{}
	kv := newMemKV()
	ce := New(inner, kv, "m", nil, nil)
	kv.data[ce.key("bb")] = vector.Encode([]float32{42})

	res, err := ce.BatchEmbed(context.Background(), []string{"a", "bb", "cccc"})
	if err != nil {
		t.Fatalf("BatchEmbed: %v", err)
	}

	if len(inner.batches) != 1 || strings.Join(inner.batches[0], ",") != "a,cccc" {
		t.Fatalf("provider saw %v, want [a cccc]", inner.batches)
	}
	want := []float32{1, 42, 4}
	for i, v := range want {
		if res.Embeddings[i][0] != v {
			t.Errorf("embedding %d = %v, want %v", i, res.Embeddings[i], v)
		}
	}
	if res.TotalTokens != 2 {
		t.Errorf("tokens = %d, want 2 (misses only)", res.TotalTokens)
	}
	if kv.sets != 2 {
		t.Errorf("writes = %d, want 2", kv.sets)
	}
}

func TestBatchEmbed_AllHitsSkipProvider(t *testing.T) {
	inner := &lengthEmbedder{}
	ce := New(inner, newMemKV(), "m", nil, nil)
	ctx := context.Background()

	if _, err := ce.BatchEmbed(ctx, []string{"x", "y"}); err != nil {
		t.Fatalf("warm: %v", err)
	}
	res, err := ce.BatchEmbed(ctx, []string{"y", "x"})
	if err != nil {
		t.Fatalf("BatchEmbed: %v", err)
	}
	if len(inner.batches) != 1 {
		t.Errorf("provider calls = %d, want 1", len(inner.batches))
	}
	if len(res.Embeddings) != 2 || res.TotalTokens != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestBatchEmbed_Empty(t *testing.T) {
	inner := &lengthEmbedder{}
	res, err := New(inner, newMemKV(), "m", nil, nil).BatchEmbed(context.Background(), nil)
	if err != nil || len(res.Embeddings) != 0 || len(inner.batches) != 0 {
		t.Fatalf("expected no-op, got %+v, %v", res, err)
	}
}

func TestBatchEmbed_ProviderErrorCachesNothing(t *testing.T) {
	boom := errors.New("provider down")
	kv := newMemKV()
	ce := New(&lengthEmbedder{err: boom}, kv, "m", nil, nil)

	if _, err := ce.Embed(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped provider error, got %v", err)
	}
	if kv.sets != 0 {
		t.Errorf("writes = %d, want 0", kv.sets)
	}
}

func TestBatchEmbed_CountMismatch(t *testing.T) {
	ce := New(&lengthEmbedder{short: true}, newMemKV(), "m", nil, nil)

	_, err := ce.BatchEmbed(context.Background(), []string{"a", "b"})
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
}

func TestLookup_StoreFailuresAreMisses(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	kv := newMemKV()
	kv.getErr = errors.New("connection reset")
	kv.setErr = errors.New("read only")
	inner := &lengthEmbedder{}
	ce := New(inner, kv, "m", nil, zap.New(core))

	res, err := ce.Embed(context.Background(), "abc")
	if err != nil {
		t.Fatalf("store failures must not fail the call: %v", err)
	}
	if res.Embedding[0] != 3 {
		t.Errorf("unexpected vector %v", res.Embedding)
	}
	if n := logs.FilterMessage("Embedding cache read failed").Len(); n != 1 {
		t.Errorf("read warnings = %d, want 1", n)
	}
	if n := logs.FilterMessage("Embedding cache write failed").Len(); n != 1 {
		t.Errorf("write warnings = %d, want 1", n)
	}
}

func TestLookup_CorruptEntryIsMiss(t *testing.T) {
	kv := newMemKV()
	inner := &lengthEmbedder{}
	ce := New(inner, kv, "m", nil, nil)
	kv.data[ce.key("abc")] = []byte{1, 2, 3}

	res, err := ce.Embed(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(inner.batches) != 1 || res.Embedding[0] != 3 {
		t.Errorf("expected provider call to repair the entry, got %v", inner.batches)
	}
}

func TestKey_DependsOnModel(t *testing.T) {
	a := New(&lengthEmbedder{}, newMemKV(), "model-a", nil, nil)
	b := New(&lengthEmbedder{}, newMemKV(), "model-b", nil, nil)

	if a.key("text") == b.key("text") {
		t.Error("same text under different models must not share a key")
	}
	if a.key("text") != a.key("text") {
		t.Error("key must be deterministic")
	}
	if !strings.HasPrefix(a.key("text"), keyPrefix) {
		t.Errorf("missing prefix: %s", a.key("text"))
	}
}

func TestLookups_CountHitsAndMisses(t *testing.T) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_embcache_lookups_total"}, []string{"result"})
	ce := New(&lengthEmbedder{}, newMemKV(), "m", counter, nil)

	ctx := context.Background()
	_, _ = ce.BatchEmbed(ctx, []string{"x", "y"})
	_, _ = ce.Embed(ctx, "x")

	if got := testutil.ToFloat64(counter.WithLabelValues("miss")); got != 2 {
		t.Errorf("misses = %v, want 2", got)
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("hit")); got != 1 {
		t.Errorf("hits = %v, want 1", got)
	}
}

func TestCachedEmbedder_SQLite(t *testing.T) {
	store, err := dbSQLite.NewStore(dbSQLite.Config{Path: filepath.Join(t.TempDir(), "cache.db")})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)

	inner := &lengthEmbedder{}
	ctx := context.Background()
	if _, err := New(inner, store, "m", nil, nil).Embed(ctx, "persisted"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	res, err := New(inner, store, "m", nil, nil).Embed(ctx, "persisted")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(inner.batches) != 1 || res.Embedding[0] != 9 {
		t.Errorf("expected second instance to hit, batches=%v vec=%v", inner.batches, res.Embedding)
	}
}

func TestLookup_UsesBatchedReads(t *testing.T) {
	kv := &multiKV{memKV: newMemKV()}
	inner := &lengthEmbedder{}
	ce := New(inner, kv, "m", nil, nil)
	ctx := context.Background()

	if _, err := ce.BatchEmbed(ctx, []string{"a", "bb"}); err != nil {
		t.Fatalf("BatchEmbed: %v", err)
	}
	res, err := ce.BatchEmbed(ctx, []string{"bb", "ccc", "a"})
	if err != nil {
		t.Fatalf("BatchEmbed: %v", err)
	}

	if kv.manyCalls != 2 {
		t.Errorf("GetMany calls = %d, want 2", kv.manyCalls)
	}
	if len(inner.batches) != 2 || len(inner.batches[1]) != 1 || inner.batches[1][0] != "ccc" {
		t.Errorf("provider batches = %v, want only the miss", inner.batches)
	}
	for i, want := range []float32{2, 3, 1} {
		if res.Embeddings[i][0] != want {
			t.Errorf("vector %d = %v, want %v", i, res.Embeddings[i], want)
		}
	}
}

func TestLookup_BatchedReadFailureIsMiss(t *testing.T) {
	kv := &multiKV{memKV: newMemKV(), manyErr: errors.New("timeout")}
	inner := &lengthEmbedder{}
	ce := New(inner, kv, "m", nil, nil)

	res, err := ce.BatchEmbed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("BatchEmbed: %v", err)
	}
	if len(res.Embeddings) != 2 || len(inner.batches) != 1 || len(inner.batches[0]) != 2 {
		t.Errorf("expected both texts sent to the provider, got %v", inner.batches)
	}
}
