package ragmcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/ragmcp/internal/chunker"
	"github.com/kailas-cloud/ragmcp/internal/db"
	dbRedis "github.com/kailas-cloud/ragmcp/internal/db/redis"
	dbSQLite "github.com/kailas-cloud/ragmcp/internal/db/sqlite"
	"github.com/kailas-cloud/ragmcp/internal/domain"
	dombatch "github.com/kailas-cloud/ragmcp/internal/domain/batch"
	recordrepo "github.com/kailas-cloud/ragmcp/internal/repository/record"
	embeddinguc "github.com/kailas-cloud/ragmcp/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/ragmcp/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/ragmcp/internal/usecase/ingest"
	retrieveuc "github.com/kailas-cloud/ragmcp/internal/usecase/retrieve"
)

const defaultReadinessTimeout = 10 * time.Second

// Internal interfaces, replaced in tests.
type ingestUseCase interface {
	Ingest(ctx context.Context, text, sourcePath, collection string) (ingestuc.Result, error)
	IngestDir(ctx context.Context, dir, collection string) ([]dombatch.Result, error)
}

type retrieveUseCase interface {
	Retrieve(ctx context.Context, query, collection string, limit int, threshold float64) ([]domain.SearchResult, error)
}

type recordReader interface {
	Count(ctx context.Context, collection string) (int, error)
	Collections(ctx context.Context) ([]string, error)
}

// Client is the ragmcp SDK entry point.
type Client struct {
	store       db.Store
	ingestSvc   ingestUseCase
	retrieveSvc retrieveUseCase
	records     recordReader
	healthSvc   healthUseCase
	obs         *observer
}

// New opens the configured store and wires the pipelines.
// The provided context is used for the initial readiness check.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		chunking:         chunker.DefaultOptions(),
		readinessTimeout: defaultReadinessTimeout,
	}
	for _, o := range opts {
		o.apply(cfg)
	}

	if cfg.driver == "" {
		return nil, errors.New("ragmcp: store required (use WithSQLite or WithRedis)")
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	store, err := createStore(cfg)
	if err != nil {
		return nil, err
	}

	if err := store.WaitForReady(ctx, cfg.readinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("ragmcp: store not ready: %w", err)
	}

	return wireClient(store, cfg, obs), nil
}

func createStore(cfg *clientConfig) (db.Store, error) {
	switch cfg.driver {
	case "sqlite":
		s, err := dbSQLite.NewStore(dbSQLite.Config{Path: cfg.sqlitePath})
		if err != nil {
			return nil, fmt.Errorf("ragmcp: create sqlite store: %w", err)
		}
		return s, nil
	case "redis":
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:     cfg.addrs,
			Password:  cfg.password,
			KeyPrefix: cfg.keyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("ragmcp: create redis store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("ragmcp: unknown driver %q", cfg.driver)
	}
}

func wireClient(store db.Store, cfg *clientConfig, obs *observer) *Client {
	repo := recordrepo.New(store)

	var emb domain.Embedder = noopEmbedder{}
	var probe healthuc.Checker
	if cfg.embedder != nil {
		a := newEmbedderAdapter(cfg.embedder)
		emb = a
		if a.health != nil {
			probe = a
		}
	}
	if cfg.retryAttempts > 1 {
		emb = embeddinguc.NewRetryingEmbedder(emb, "sdk", "", embeddinguc.RetryPolicy{
			MaxAttempts: cfg.retryAttempts,
			Step:        cfg.retryStep,
		}, nil)
	}

	split := chunker.New(cfg.chunking)

	return &Client{
		store:       store,
		ingestSvc:   ingestuc.New(repo, emb, split),
		retrieveSvc: retrieveuc.New(repo, emb),
		records:     repo,
		healthSvc:   healthuc.New(store).WithProbe("embedding", probe),
		obs:         obs,
	}
}

// Close releases all resources.
func (c *Client) Close() {
	if c.store != nil {
		c.store.Close()
	}
}

// Ping checks store connectivity.
func (c *Client) Ping(ctx context.Context) (err error) {
	sp := c.obs.begin("ping")
	defer func() { sp.end(err) }()

	if err = c.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Ingest chunks text, embeds every chunk and appends the records to
// collection. Binary content is reported as Skipped without error. A failed
// write stops the call; records written before it stay.
func (c *Client) Ingest(ctx context.Context, collection, sourcePath, text string) (res IngestResult, err error) {
	sp := c.obs.begin("ingest", "collection", collection, "source", sourcePath)
	defer func() {
		sp.add("chunks", res.Written)
		sp.written(collection, res.Written)
		sp.end(err)
	}()

	r, err := c.ingestSvc.Ingest(ctx, text, sourcePath, collection)
	res = IngestResult{Chunks: r.Chunks, Written: r.Written, Skipped: r.Skipped}
	if err != nil {
		return res, fmt.Errorf("ingest: %w", err)
	}
	return res, nil
}

// IngestDir ingests every text file under dir. A failing file is reported in
// its FileResult and does not stop the walk.
func (c *Client) IngestDir(ctx context.Context, collection, dir string) (_ []FileResult, err error) {
	sp := c.obs.begin("ingest_dir", "collection", collection, "dir", dir)
	defer func() { sp.end(err) }()

	results, err := c.ingestSvc.IngestDir(ctx, dir, collection)
	if err != nil {
		return nil, fmt.Errorf("ingest dir: %w", err)
	}
	out := make([]FileResult, len(results))
	for i, r := range results {
		out[i] = FileResult{
			Path:   r.Path(),
			Status: FileStatus(r.Status()),
			Chunks: r.Chunks(),
			Err:    r.Err(),
		}
	}
	sum := dombatch.Summarize(results)
	sp.add("files", len(results), "failed", sum.Failed)
	sp.written(collection, sum.Chunks)
	return out, nil
}

// Retrieve returns up to limit chunks of collection scoring at least
// threshold against query, best first. A missing collection yields an
// empty slice.
func (c *Client) Retrieve(
	ctx context.Context, collection, query string, limit int, threshold float64,
) (_ []SearchResult, err error) {
	sp := c.obs.begin("retrieve", "collection", collection, "limit", limit)
	defer func() { sp.end(err) }()

	hits, err := c.retrieveSvc.Retrieve(ctx, query, collection, limit, threshold)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	out := make([]SearchResult, len(hits))
	for i, h := range hits {
		out[i] = SearchResult{Text: h.Text, SourcePath: h.SourcePath, Score: h.Score}
	}
	return out, nil
}

// Count returns the number of records in collection. Zero for a missing one.
func (c *Client) Count(ctx context.Context, collection string) (n int, err error) {
	sp := c.obs.begin("count", "collection", collection)
	defer func() { sp.end(err) }()

	n, err = c.records.Count(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Collections lists collection names in lexical order.
func (c *Client) Collections(ctx context.Context) (_ []string, err error) {
	sp := c.obs.begin("collections")
	defer func() { sp.end(err) }()

	names, err := c.records.Collections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return names, nil
}

// embedderAdapter wraps the public Embedder to satisfy domain.Embedder.
type embedderAdapter struct {
	inner  Embedder
	batch  BatchEmbedder
	health HealthChecker
}

func newEmbedderAdapter(e Embedder) *embedderAdapter {
	a := &embedderAdapter{inner: e}
	a.batch, _ = e.(BatchEmbedder)
	a.health, _ = e.(HealthChecker)
	return a
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	r, err := a.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}
	return domain.EmbeddingResult{
		Embedding:    r.Embedding,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}

// BatchEmbed uses the inner BatchEmbedder when there is one.
func (a *embedderAdapter) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if a.batch == nil {
		return domain.EmbedEach(ctx, a, texts)
	}
	r, err := a.batch.BatchEmbed(ctx, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed: %w", err)
	}
	return domain.BatchEmbeddingResult{
		Embeddings:   r.Embeddings,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}

func (a *embedderAdapter) HealthCheck(ctx context.Context) error {
	if a.health == nil {
		return nil
	}
	return a.health.HealthCheck(ctx)
}

// noopEmbedder fails every call (used when no embedder is configured).
type noopEmbedder struct{}

func (noopEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{}, fmt.Errorf(
		"ragmcp: embedder not configured (use WithEmbedder): %w", domain.ErrEmbeddingUnavailable,
	)
}
