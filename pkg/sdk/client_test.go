package ragmcp

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// --- Mocks ---

type mockEmbedder struct {
	fn func(ctx context.Context, text string) (EmbeddingResult, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	return m.fn(ctx, text)
}

// keywordEmbedder maps text onto one axis per keyword plus a small bias so
// no vector is zero.
type keywordEmbedder struct {
	keywords []string
	healthy  error
}

func (k *keywordEmbedder) Embed(_ context.Context, text string) (EmbeddingResult, error) {
	vec := make([]float32, len(k.keywords)+1)
	for i, kw := range k.keywords {
		if strings.Contains(text, kw) {
			vec[i] = 1
		}
	}
	vec[len(k.keywords)] = 0.01
	return EmbeddingResult{Embedding: vec, TotalTokens: len(strings.Fields(text))}, nil
}

func (k *keywordEmbedder) HealthCheck(_ context.Context) error { return k.healthy }

type batchOnlyEmbedder struct {
	mockEmbedder
	calls int
}

func (b *batchOnlyEmbedder) BatchEmbed(_ context.Context, texts []string) (BatchEmbeddingResult, error) {
	b.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return BatchEmbeddingResult{Embeddings: out, TotalTokens: len(texts)}, nil
}

func newSQLiteClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithSQLite(filepath.Join(t.TempDir(), "rag.db"))}, opts...)
	c, err := New(context.Background(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

// --- Tests ---

func TestNew_NoStore(t *testing.T) {
	_, err := New(context.Background())
	if err == nil {
		t.Fatal("expected error when no store is configured")
	}
}

func TestNew_UnknownDriver(t *testing.T) {
	cfg := &clientConfig{driver: "unknown"}
	if _, err := createStore(cfg); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestNew_SQLiteEmptyPath(t *testing.T) {
	if _, err := New(context.Background(), WithSQLite("")); err == nil {
		t.Fatal("expected error for empty sqlite path")
	}
}

func TestClient_IngestRetrieveCount(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteClient(t, WithEmbedder(&keywordEmbedder{keywords: []string{"alpha", "beta"}}))

	res, err := c.Ingest(ctx, "docs", "a.md", "alpha notes about alpha things")
	if err != nil {
		t.Fatalf("Ingest a: %v", err)
	}
	if res.Chunks != 1 || res.Written != 1 || res.Skipped {
		t.Errorf("result = %+v, want one written chunk", res)
	}
	if _, err := c.Ingest(ctx, "docs", "b.md", "beta notes"); err != nil {
		t.Fatalf("Ingest b: %v", err)
	}

	hits, err := c.Retrieve(ctx, "docs", "tell me about alpha", 3, 0.5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1: %+v", len(hits), hits)
	}
	if hits[0].SourcePath != "a.md" {
		t.Errorf("source = %q, want a.md", hits[0].SourcePath)
	}
	if hits[0].Score < 0.99 {
		t.Errorf("score = %f, want ~1", hits[0].Score)
	}

	n, err := c.Count(ctx, "docs")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}

	names, err := c.Collections(ctx)
	if err != nil {
		t.Fatalf("Collections: %v", err)
	}
	if len(names) != 1 || names[0] != "docs" {
		t.Errorf("collections = %v, want [docs]", names)
	}
}

func TestClient_RetrieveMissingCollectionIsEmpty(t *testing.T) {
	c := newSQLiteClient(t, WithEmbedder(&keywordEmbedder{keywords: []string{"x"}}))

	hits, err := c.Retrieve(context.Background(), "nope", "x", 3, 0)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if hits == nil || len(hits) != 0 {
		t.Errorf("hits = %#v, want empty non-nil", hits)
	}
}

func TestClient_IngestBinarySkipped(t *testing.T) {
	c := newSQLiteClient(t, WithEmbedder(&keywordEmbedder{keywords: []string{"x"}}))

	res, err := c.Ingest(context.Background(), "docs", "blob.bin", "abc\x00def")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !res.Skipped {
		t.Errorf("expected skipped, got %+v", res)
	}
}

func TestClient_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	dims := 3
	emb := &mockEmbedder{fn: func(_ context.Context, _ string) (EmbeddingResult, error) {
		vec := make([]float32, dims)
		vec[0] = 1
		return EmbeddingResult{Embedding: vec}, nil
	}}
	c := newSQLiteClient(t, WithEmbedder(emb))

	if _, err := c.Ingest(ctx, "docs", "a.md", "first"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	dims = 2
	_, err := c.Ingest(ctx, "docs", "b.md", "second")
	if !errors.Is(err, ErrVectorDimMismatch) {
		t.Fatalf("err = %v, want ErrVectorDimMismatch", err)
	}
}

func TestClient_NoEmbedder(t *testing.T) {
	c := newSQLiteClient(t)

	_, err := c.Retrieve(context.Background(), "docs", "query", 3, 0)
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("err = %v, want ErrEmbeddingUnavailable", err)
	}
}

func TestClient_InvalidLimit(t *testing.T) {
	c := newSQLiteClient(t, WithEmbedder(&keywordEmbedder{keywords: []string{"x"}}))

	_, err := c.Retrieve(context.Background(), "docs", "query", 0, 0)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestClient_IngestDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.md"), "alpha text")
	writeFile(t, filepath.Join(dir, "sub", "b.txt"), "beta text")

	c := newSQLiteClient(t, WithEmbedder(&keywordEmbedder{keywords: []string{"alpha", "beta"}}))
	results, err := c.IngestDir(context.Background(), "docs", dir)
	if err != nil {
		t.Fatalf("IngestDir: %v", err)
	}
	ok := 0
	for _, r := range results {
		if r.Status == FileOK {
			ok++
		}
	}
	if ok != 2 {
		t.Errorf("ok files = %d, want 2: %+v", ok, results)
	}
}

func TestClient_Health(t *testing.T) {
	emb := &keywordEmbedder{keywords: []string{"x"}}
	c := newSQLiteClient(t, WithEmbedder(emb))

	h := c.Health(context.Background())
	if !h.OK() || len(h.Failing()) != 0 {
		t.Errorf("status = %q, want ok", h.Status)
	}
	if h.Checks["embedding"] != "ok" {
		t.Errorf("embedding check = %q, want ok", h.Checks["embedding"])
	}

	emb.healthy = errors.New("down")
	h = c.Health(context.Background())
	if h.Status != "degraded" || h.OK() {
		t.Errorf("status = %q, want degraded", h.Status)
	}
	if f := h.Failing(); len(f) != 1 || f[0] != "embedding" {
		t.Errorf("failing = %v, want [embedding]", f)
	}
}

func TestClient_HealthWithoutProbe(t *testing.T) {
	c := newSQLiteClient(t, WithEmbedder(&mockEmbedder{}))

	h := c.Health(context.Background())
	if _, ok := h.Checks["embedding"]; ok {
		t.Error("embedding without HealthCheck should not be probed")
	}
}

func TestClient_Close_NilStore(t *testing.T) {
	c := &Client{store: nil}
	c.Close()
}

func TestNoopEmbedder(t *testing.T) {
	_, err := noopEmbedder{}.Embed(context.Background(), "test")
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("err = %v, want ErrEmbeddingUnavailable", err)
	}
}

func TestEmbedderAdapter(t *testing.T) {
	called := false
	mock := &mockEmbedder{
		fn: func(_ context.Context, _ string) (EmbeddingResult, error) {
			called = true
			return EmbeddingResult{Embedding: []float32{1, 2, 3}, PromptTokens: 5, TotalTokens: 10}, nil
		},
	}

	adapter := newEmbedderAdapter(mock)
	result, err := adapter.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("inner embedder was not called")
	}
	if len(result.Embedding) != 3 || result.TotalTokens != 10 {
		t.Errorf("result = %+v", result)
	}

	batch, err := adapter.BatchEmbed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("BatchEmbed fallback: %v", err)
	}
	if len(batch.Embeddings) != 2 || batch.TotalTokens != 20 {
		t.Errorf("batch = %+v", batch)
	}
}

func TestEmbedderAdapter_UsesBatch(t *testing.T) {
	b := &batchOnlyEmbedder{}
	adapter := newEmbedderAdapter(b)

	res, err := adapter.BatchEmbed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("BatchEmbed: %v", err)
	}
	if b.calls != 1 || len(res.Embeddings) != 3 {
		t.Errorf("calls = %d, embeddings = %d", b.calls, len(res.Embeddings))
	}
}

func TestEmbedderAdapter_Error(t *testing.T) {
	mock := &mockEmbedder{
		fn: func(_ context.Context, _ string) (EmbeddingResult, error) {
			return EmbeddingResult{}, errors.New("provider down")
		},
	}

	if _, err := newEmbedderAdapter(mock).Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error from adapter")
	}
}

func TestClientOptions(t *testing.T) {
	cfg := &clientConfig{}
	WithSQLite("/tmp/rag.db").apply(cfg)
	if cfg.driver != "sqlite" || cfg.sqlitePath != "/tmp/rag.db" {
		t.Errorf("sqlite = (%q, %q)", cfg.driver, cfg.sqlitePath)
	}

	cfg2 := &clientConfig{}
	WithRedis("localhost:6380", "pass").apply(cfg2)
	WithKeyPrefix("rag:").apply(cfg2)
	if cfg2.driver != "redis" || cfg2.addrs[0] != "localhost:6380" || cfg2.password != "pass" {
		t.Errorf("redis = (%q, %v, %q)", cfg2.driver, cfg2.addrs, cfg2.password)
	}
	if cfg2.keyPrefix != "rag:" {
		t.Errorf("keyPrefix = %q", cfg2.keyPrefix)
	}

	cfg3 := &clientConfig{}
	WithChunking(64, 256, 10).apply(cfg3)
	if cfg3.chunking.MaxTokensPerLine != 64 || cfg3.chunking.MaxTokensPerParagraph != 256 ||
		cfg3.chunking.OverlapTokens != 10 {
		t.Errorf("chunking = %+v", cfg3.chunking)
	}
	WithRetry(3, time.Millisecond).apply(cfg3)
	if cfg3.retryAttempts != 3 || cfg3.retryStep != time.Millisecond {
		t.Errorf("retry = (%d, %v)", cfg3.retryAttempts, cfg3.retryStep)
	}
	WithReadinessTimeout(time.Second).apply(cfg3)
	if cfg3.readinessTimeout != time.Second {
		t.Errorf("readinessTimeout = %v", cfg3.readinessTimeout)
	}

	cfg4 := &clientConfig{}
	logger := slog.Default()
	WithLogger(logger).apply(cfg4)
	if cfg4.logger != logger {
		t.Error("expected logger to be set")
	}

	cfg5 := &clientConfig{}
	reg := prometheus.NewRegistry()
	WithPrometheus(reg).apply(cfg5)
	if cfg5.metricsReg != reg {
		t.Error("expected metricsReg to be set")
	}
}

func TestClient_RetryWrapsEmbedder(t *testing.T) {
	attempts := 0
	emb := &mockEmbedder{fn: func(_ context.Context, _ string) (EmbeddingResult, error) {
		attempts++
		if attempts < 2 {
			return EmbeddingResult{}, errors.New("connection reset")
		}
		return EmbeddingResult{Embedding: []float32{1, 0}}, nil
	}}
	c := newSQLiteClient(t, WithEmbedder(emb), WithRetry(3, time.Millisecond))

	if _, err := c.Ingest(context.Background(), "docs", "a.md", "text"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestClient_ObservesOperations(t *testing.T) {
	reg := prometheus.NewRegistry()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := newSQLiteClient(t,
		WithEmbedder(&keywordEmbedder{keywords: []string{"x"}}),
		WithPrometheus(reg),
		WithLogger(logger),
	)

	_, _ = c.Count(context.Background(), "docs")
	_, _ = c.Retrieve(context.Background(), "docs", "", 3, 0)

	if got := testutil.ToFloat64(c.obs.metrics.calls.WithLabelValues("count", "ok")); got != 1 {
		t.Errorf("count ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.obs.metrics.calls.WithLabelValues("retrieve", "error")); got != 1 {
		t.Errorf("retrieve error = %v, want 1", got)
	}
	if !strings.Contains(buf.String(), "op=retrieve") || !strings.Contains(buf.String(), "collection=docs") {
		t.Errorf("log output missing operation attrs: %s", buf.String())
	}
}

func TestObserver_NilSafe(t *testing.T) {
	var obs *observer
	sp := obs.begin("test", "k", "v")
	sp.add("more", 1)
	sp.written("docs", 3)
	sp.end(errors.New("err"))
}

func TestObserver_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs, err := newObserver(nil, reg)
	if err != nil {
		t.Fatalf("newObserver: %v", err)
	}

	ok := obs.begin("ingest")
	ok.written("docs", 4)
	ok.written("docs", 0)
	ok.end(nil)
	obs.begin("ingest").end(errors.New("fail"))

	if got := testutil.ToFloat64(obs.metrics.calls.WithLabelValues("ingest", "ok")); got != 1 {
		t.Errorf("ingest ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(obs.metrics.calls.WithLabelValues("ingest", "error")); got != 1 {
		t.Errorf("ingest error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(obs.metrics.written.WithLabelValues("docs")); got != 4 {
		t.Errorf("chunks written = %v, want 4", got)
	}
	if n := testutil.CollectAndCount(obs.metrics.latency); n != 1 {
		t.Errorf("latency series = %d, want 1", n)
	}
}

func TestObserver_ReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := newObserver(nil, reg)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := newObserver(nil, reg)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.metrics.calls != second.metrics.calls || first.metrics.written != second.metrics.written {
		t.Error("expected the second observer to reuse the registered collectors")
	}
}

func TestObserver_ConflictingRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ragmcp", Subsystem: "sdk", Name: "calls_total", Help: "not a counter vec",
	}))
	if _, err := newObserver(nil, reg); err == nil {
		t.Fatal("expected error for a conflicting collector")
	}
}

func TestObserver_NoMetricsNoLogger(t *testing.T) {
	obs, err := newObserver(nil, nil)
	if err != nil {
		t.Fatalf("newObserver: %v", err)
	}
	sp := obs.begin("noop")
	sp.written("docs", 2)
	sp.end(nil)
}
