// Package embcache stores embedding vectors in the backing store's KV space
// so re-ingesting unchanged text or repeating a query costs no provider call.
package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragmcp/internal/db"
	"github.com/kailas-cloud/ragmcp/internal/domain"
	"github.com/kailas-cloud/ragmcp/internal/domain/vector"
)

// keyPrefix namespaces cache entries inside the KV table.
const keyPrefix = "embcache:"

// CachedEmbedder serves vectors from the KV store and sends only misses to
// the wrapped embedder. Hits report zero tokens.
type CachedEmbedder struct {
	inner   domain.Embedder
	kv      db.KVStore
	model   string
	lookups *prometheus.CounterVec
	logger  *zap.Logger
}

// New wraps inner. lookups counts "hit" and "miss" results and may be nil.
func New(
	inner domain.Embedder,
	kv db.KVStore,
	model string,
	lookups *prometheus.CounterVec,
	logger *zap.Logger,
) *CachedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{inner: inner, kv: kv, model: model, lookups: lookups, logger: logger}
}

// Embed implements domain.Embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := c.BatchEmbed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{
		Embedding:    res.Embeddings[0],
		PromptTokens: res.PromptTokens,
		TotalTokens:  res.TotalTokens,
	}, nil
}

// BatchEmbed implements domain.BatchEmbedder. Misses go to the inner
// embedder in one call and are written back before returning.
func (c *CachedEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(t)
	}
	out, misses := c.lookup(ctx, keys)
	if len(misses) == 0 {
		return domain.BatchEmbeddingResult{Embeddings: out}, nil
	}

	pending := make([]string, len(misses))
	for j, i := range misses {
		pending[j] = texts[i]
	}
	res, err := domain.EmbedBatch(ctx, c.inner, pending)
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("embed cache misses: %w", err)
	}
	if len(res.Embeddings) != len(pending) {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("embedder returned %d vectors for %d cache misses: %w",
			len(res.Embeddings), len(pending), domain.ErrEmbeddingUnavailable)
	}

	for j, i := range misses {
		out[i] = res.Embeddings[j]
		c.store(ctx, keys[i], res.Embeddings[j])
	}
	res.Embeddings = out
	return res, nil
}

// HealthCheck implements domain.HealthChecker.
func (c *CachedEmbedder) HealthCheck(ctx context.Context) error {
	return domain.ProbeHealth(ctx, c.inner)
}

// key is sha256(model NUL text): the same text under another model misses.
func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// lookup returns the cached vectors and the indexes that missed. Read
// failures count as misses. Stores with MGET-style reads are hit once.
func (c *CachedEmbedder) lookup(ctx context.Context, keys []string) ([][]float32, []int) {
	raw := c.readAll(ctx, keys)
	out := make([][]float32, len(keys))
	var misses []int
	for i, key := range keys {
		vec, err := raw[i]()
		if err != nil {
			if !errors.Is(err, db.ErrKeyNotFound) {
				c.logger.Warn("Embedding cache read failed", zap.String("key", key), zap.Error(err))
			}
			c.count("miss")
			misses = append(misses, i)
			continue
		}
		c.count("hit")
		out[i] = vec
	}
	return out, misses
}

// readAll returns one deferred decode per key.
func (c *CachedEmbedder) readAll(ctx context.Context, keys []string) []func() ([]float32, error) {
	reads := make([]func() ([]float32, error), len(keys))
	if mg, ok := c.kv.(db.MultiGetter); ok && len(keys) > 1 {
		values, err := mg.GetMany(ctx, keys)
		for i := range keys {
			var data []byte
			if err == nil && i < len(values) {
				data = values[i]
			}
			reads[i] = func() ([]float32, error) {
				if err != nil {
					return nil, err
				}
				return decode(data)
			}
		}
		return reads
	}
	for i, key := range keys {
		reads[i] = func() ([]float32, error) { return c.load(ctx, key) }
	}
	return reads
}

func (c *CachedEmbedder) load(ctx context.Context, key string) ([]float32, error) {
	data, err := c.kv.Get(ctx, key)
	if err != nil {
		return nil, err //nolint:wrapcheck // classified by lookup
	}
	return decode(data)
}

func decode(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, db.ErrKeyNotFound
	}
	return vector.Decode(data) //nolint:wrapcheck // logged by lookup
}

func (c *CachedEmbedder) store(ctx context.Context, key string, vec []float32) {
	if err := c.kv.Set(ctx, key, vector.Encode(vec)); err != nil {
		c.logger.Warn("Embedding cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *CachedEmbedder) count(result string) {
	if c.lookups != nil {
		c.lookups.WithLabelValues(result).Inc()
	}
}
