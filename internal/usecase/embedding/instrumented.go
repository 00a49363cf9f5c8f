package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragmcp/internal/domain"
)

// DefaultMaxAPIBatchSize is the largest batch sent to the provider in one request.
const DefaultMaxAPIBatchSize = 256

// InstrumentedEmbedder is the outermost provider decorator. It caps request
// size, logs each call and adds the tokens to the per-request usage collector
// in ctx. Provider metrics live in the transports.
type InstrumentedEmbedder struct {
	inner    domain.Embedder
	provider string
	model    string
	maxBatch int
	logger   *zap.Logger
}

// NewInstrumentedEmbedder wraps inner. provider and model only label log lines.
func NewInstrumentedEmbedder(inner domain.Embedder, provider, model string, logger *zap.Logger) *InstrumentedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstrumentedEmbedder{
		inner:    inner,
		provider: provider,
		model:    model,
		maxBatch: DefaultMaxAPIBatchSize,
		logger:   logger.With(zap.String("provider", provider), zap.String("model", model)),
	}
}

// WithMaxBatch overrides the request size cap. Non-positive values are ignored.
func (p *InstrumentedEmbedder) WithMaxBatch(n int) *InstrumentedEmbedder {
	if n > 0 {
		p.maxBatch = n
	}
	return p
}

// Embed implements domain.Embedder.
func (p *InstrumentedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	start := time.Now()
	res, err := p.inner.Embed(ctx, text)
	if err != nil {
		p.logger.Error("Embedding request failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}

	p.completed(ctx, "Embedding request completed", start, res.TotalTokens,
		zap.Int("dimensions", len(res.Embedding)))
	return res, nil
}

// BatchEmbed implements domain.BatchEmbedder. Texts are sent in slices of at
// most maxBatch; the first failing slice aborts the call.
func (p *InstrumentedEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	var out domain.BatchEmbeddingResult
	if len(texts) == 0 {
		return out, nil
	}

	start := time.Now()
	out.Embeddings = make([][]float32, 0, len(texts))
	requests := 0
	for lo := 0; lo < len(texts); lo += p.maxBatch {
		hi := min(lo+p.maxBatch, len(texts))
		part, err := domain.EmbedBatch(ctx, p.inner, texts[lo:hi])
		if err != nil {
			p.logger.Error("Batch embedding request failed",
				zap.Int("offset", lo),
				zap.Int("size", hi-lo),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err))
			return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed [%d:%d]: %w", lo, hi, err)
		}
		out.Embeddings = append(out.Embeddings, part.Embeddings...)
		out.PromptTokens += part.PromptTokens
		out.TotalTokens += part.TotalTokens
		requests++
	}

	p.completed(ctx, "Batch embedding completed", start, out.TotalTokens,
		zap.Int("batch_size", len(texts)),
		zap.Int("requests", requests))
	return out, nil
}

// HealthCheck implements domain.HealthChecker.
func (p *InstrumentedEmbedder) HealthCheck(ctx context.Context) error {
	return domain.ProbeHealth(ctx, p.inner)
}

func (p *InstrumentedEmbedder) completed(ctx context.Context, msg string, start time.Time, tokens int, fields ...zap.Field) {
	domain.UsageFromContext(ctx).AddTokens(tokens)
	if ce := p.logger.Check(zap.DebugLevel, msg); ce != nil {
		ce.Write(append(fields,
			zap.Duration("duration", time.Since(start)),
			zap.Int("total_tokens", tokens))...)
	}
}
