// Package bootstrap is the composition root shared by the RPC server and the
// HTTP API: it opens the store and assembles the embedder chain and the
// ingestion and retrieval services from config.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragmcp/internal/chunker"
	"github.com/kailas-cloud/ragmcp/internal/config"
	"github.com/kailas-cloud/ragmcp/internal/db"
	dbRedis "github.com/kailas-cloud/ragmcp/internal/db/redis"
	dbSQLite "github.com/kailas-cloud/ragmcp/internal/db/sqlite"
	"github.com/kailas-cloud/ragmcp/internal/domain"
	"github.com/kailas-cloud/ragmcp/internal/metrics"
	budgetrepo "github.com/kailas-cloud/ragmcp/internal/repository/budget"
	"github.com/kailas-cloud/ragmcp/internal/repository/embcache"
	recordrepo "github.com/kailas-cloud/ragmcp/internal/repository/record"
	ollamaEmb "github.com/kailas-cloud/ragmcp/internal/transport/ollama"
	openaiEmb "github.com/kailas-cloud/ragmcp/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/ragmcp/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/ragmcp/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/ragmcp/internal/usecase/ingest"
	retrieveuc "github.com/kailas-cloud/ragmcp/internal/usecase/retrieve"
	usageuc "github.com/kailas-cloud/ragmcp/internal/usecase/usage"
)

// Pipeline holds the wired store and services.
type Pipeline struct {
	Store    db.Store
	Records  *recordrepo.Repo
	Ingest   *ingestuc.Service
	Retrieve *retrieveuc.Service

	// DocEmbedder and QueryEmbedder share the provider and the token budget
	// and differ only in their instruction prefix.
	DocEmbedder   domain.Embedder
	QueryEmbedder domain.Embedder
	Budget        *embeddinguc.BudgetTracker
}

// NewPipeline opens the configured store, waits for it and wires the
// embedder chain and services. Close releases the store.
func NewPipeline(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Pipeline, error) {
	store, err := OpenStore(cfg.Database)
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.Database.ReadinessTimeout) * time.Second
	if err := store.WaitForReady(ctx, timeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("database not ready: %w", err)
	}

	budget := embeddinguc.NewBudgetTracker(cfg.Embedding.Provider, embeddinguc.BudgetLimits{
		Daily:   cfg.Embedding.Budget.DailyTokens,
		Monthly: cfg.Embedding.Budget.MonthlyTokens,
		Action:  embeddinguc.BudgetAction(cfg.Embedding.Budget.Action),
	}, logger.Named("budget")).WithStore(ctx, budgetrepo.New(store))

	docEmb := BuildEmbedder(cfg.Embedding, cfg.Embedding.DocumentInstruction, store, budget, logger)
	queryEmb := BuildEmbedder(cfg.Embedding, cfg.Embedding.QueryInstruction, store, budget, logger)

	repo := recordrepo.New(store)
	split := chunker.New(chunker.Options{
		MaxTokensPerLine:      cfg.Chunking.MaxTokensPerLine,
		MaxTokensPerParagraph: cfg.Chunking.MaxTokensPerParagraph,
		OverlapTokens:         max(cfg.Chunking.OverlapTokens, 0),
	})

	return &Pipeline{
		Store:         store,
		Records:       repo,
		Ingest:        ingestuc.New(repo, docEmb, split).WithLogger(logger.Named("ingest")),
		Retrieve:      retrieveuc.New(repo, queryEmb).WithLogger(logger.Named("retrieve")),
		DocEmbedder:   docEmb,
		QueryEmbedder: queryEmb,
		Budget:        budget,
	}, nil
}

// Health returns a health service over the store and the embedding provider.
func (p *Pipeline) Health() *healthuc.Service {
	var probe healthuc.Checker
	if hc, ok := p.DocEmbedder.(domain.HealthChecker); ok {
		probe = hc
	}
	return healthuc.New(p.Store).WithProbe("embedding", probe)
}

// Usage returns a usage report service over the shared token budget.
func (p *Pipeline) Usage() *usageuc.Service {
	return usageuc.New(p.Budget)
}

// Close releases the store.
func (p *Pipeline) Close() {
	p.Store.Close()
}

// OpenStore creates the store for cfg.Driver without waiting for it.
func OpenStore(cfg config.DatabaseConfig) (db.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := dbSQLite.NewStore(dbSQLite.Config{Path: cfg.Path})
		if err != nil {
			return nil, fmt.Errorf("create sqlite store: %w", err)
		}
		return s, nil
	case "redis":
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:     cfg.Addrs,
			Password:  cfg.Password,
			KeyPrefix: cfg.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("create redis store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// BuildEmbedder assembles the decorator chain:
// provider -> retry -> budget -> cache -> instrumented -> instruction.
// The instruction prefix is outermost so the cache key includes it, and
// cache hits never count against the budget. budget may be nil.
func BuildEmbedder(
	cfg config.EmbeddingConfig,
	instruction string,
	store db.KVStore,
	budget *embeddinguc.BudgetTracker,
	logger *zap.Logger,
) domain.Embedder {
	var embedder domain.Embedder
	switch cfg.Provider {
	case "openai":
		embedder = openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Provider:   cfg.Provider,
			Logger:     logger,
		})
	default:
		embedder = ollamaEmb.NewEmbedder(&ollamaEmb.Config{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Logger:  logger,
		})
	}

	embedder = embeddinguc.NewRetryingEmbedder(embedder, cfg.Provider, cfg.Model, retryPolicy(cfg.Retry), logger)

	if budget != nil {
		embedder = embeddinguc.NewBudgetedEmbedder(embedder, budget)
	}

	if cfg.Cache && store != nil {
		embedder = embcache.New(embedder, store, cfg.Model, metrics.EmbeddingCacheTotal, logger)
	}

	embedder = embeddinguc.NewInstrumentedEmbedder(embedder, cfg.Provider, cfg.Model, logger)

	if instruction != "" {
		return domain.NewPrefixEmbedder(embedder, instruction)
	}
	return embedder
}

func retryPolicy(cfg config.RetryConfig) embeddinguc.RetryPolicy {
	return embeddinguc.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Step:        time.Duration(cfg.BackoffStepMS) * time.Millisecond,
		Throttle:    time.Duration(max(cfg.ThrottleMS, 0)) * time.Millisecond,
	}
}
