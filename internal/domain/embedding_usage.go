package domain

import (
	"context"
	"sync/atomic"
)

// EmbeddingTokensHeader carries the tokens an HTTP request spent on embeddings.
const EmbeddingTokensHeader = "X-Embedding-Tokens"

type usageKey struct{}

// EmbeddingUsage collects the embedding tokens one request spent. A nil
// collector swallows everything.
type EmbeddingUsage struct {
	tokens  atomic.Int64
	touched atomic.Bool
}

// WithEmbeddingUsage returns ctx carrying a fresh collector.
func WithEmbeddingUsage(ctx context.Context) (context.Context, *EmbeddingUsage) {
	u := new(EmbeddingUsage)
	return context.WithValue(ctx, usageKey{}, u), u
}

// UsageFromContext returns the collector in ctx, or nil.
func UsageFromContext(ctx context.Context) *EmbeddingUsage {
	u, _ := ctx.Value(usageKey{}).(*EmbeddingUsage)
	return u
}

// AddTokens records n tokens. Zero still marks the collector as used, which
// is what a cache hit reports.
func (u *EmbeddingUsage) AddTokens(n int) {
	if u == nil {
		return
	}
	u.tokens.Add(int64(n))
	u.touched.Store(true)
}

// Tokens returns the total recorded so far.
func (u *EmbeddingUsage) Tokens() int {
	if u == nil {
		return 0
	}
	return int(u.tokens.Load())
}

// Used reports whether any embedding ran.
func (u *EmbeddingUsage) Used() bool { return u != nil && u.touched.Load() }
