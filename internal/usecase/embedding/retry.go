package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragmcp/internal/domain"
	"github.com/kailas-cloud/ragmcp/internal/metrics"
)

// RetryPolicy bounds retries of a single embedding call.
type RetryPolicy struct {
	MaxAttempts int
	// Step is the linear backoff unit: the wait after attempt i is (i+1)*Step.
	Step time.Duration
	// Throttle is the pause after every successful call. Zero disables it.
	Throttle time.Duration
}

// DefaultRetryPolicy returns 10 attempts, a 2s step and a 300ms throttle.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 10, Step: 2 * time.Second, Throttle: 300 * time.Millisecond}
}

// statusCoder is implemented by transport errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// RetryingEmbedder retries transient embedding failures with linear backoff.
// Transport errors and 5xx are retried, any other status is permanent.
type RetryingEmbedder struct {
	inner    domain.Embedder
	provider string
	model    string
	policy   RetryPolicy
	logger   *zap.Logger
}

// NewRetryingEmbedder wraps inner with the given retry policy.
func NewRetryingEmbedder(
	inner domain.Embedder, provider, model string,
	policy RetryPolicy, logger *zap.Logger,
) *RetryingEmbedder {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingEmbedder{
		inner:    inner,
		provider: provider,
		model:    model,
		policy:   policy,
		logger:   logger,
	}
}

// Embed implements domain.Embedder.
func (r *RetryingEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	var out domain.EmbeddingResult
	err := r.retry(ctx, func(ctx context.Context) error {
		res, err := r.inner.Embed(ctx, text)
		if err != nil {
			return err //nolint:wrapcheck // classified by retry
		}
		out = res
		return nil
	})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	r.throttle(ctx)
	return out, nil
}

// BatchEmbed retries whole batches when inner batches natively, otherwise
// embeds text by text. Any failure fails the whole call.
func (r *RetryingEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	be, ok := r.inner.(domain.BatchEmbedder)
	if !ok {
		res, err := domain.EmbedEach(ctx, r, texts)
		if err != nil {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("retry batch: %w", err)
		}
		return res, nil
	}

	var out domain.BatchEmbeddingResult
	err := r.retry(ctx, func(ctx context.Context) error {
		res, err := be.BatchEmbed(ctx, texts)
		if err != nil {
			return err //nolint:wrapcheck // classified by retry
		}
		out = res
		return nil
	})
	if err != nil {
		return domain.BatchEmbeddingResult{}, err
	}
	r.throttle(ctx)
	return out, nil
}

// HealthCheck delegates to inner without retries.
func (r *RetryingEmbedder) HealthCheck(ctx context.Context) error {
	return domain.ProbeHealth(ctx, r.inner)
}

func (r *RetryingEmbedder) retry(ctx context.Context, call func(context.Context) error) error {
	attempts := 0
	var last error

	op := func() error {
		attempts++
		err := call(ctx)
		if err == nil {
			return nil
		}
		last = err
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{step: r.policy.Step}, uint64(r.policy.MaxAttempts-1)),
		ctx,
	)

	notify := func(err error, wait time.Duration) {
		metrics.EmbeddingRetriesTotal.WithLabelValues(r.provider, r.model).Inc()
		r.logger.Warn("Embedding attempt failed, retrying",
			zap.String("provider", r.provider),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", r.policy.MaxAttempts),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(op, b, notify)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("embed after %d attempts: %w", attempts, ctxErr)
	}

	r.logger.Error("Embedding failed",
		zap.String("provider", r.provider),
		zap.String("model", r.model),
		zap.Int("attempts", attempts),
		zap.Error(last),
	)
	return upstreamError(last, attempts)
}

// throttle pauses after a successful call so a local model is not flooded.
func (r *RetryingEmbedder) throttle(ctx context.Context) {
	if r.policy.Throttle <= 0 {
		return
	}
	t := time.NewTimer(r.policy.Throttle)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func retryable(err error) bool {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus() >= http.StatusInternalServerError
	}
	return !errors.Is(err, domain.ErrInvalidArgument)
}

func upstreamError(err error, attempts int) *domain.UpstreamError {
	ue := &domain.UpstreamError{Body: err.Error(), Attempts: attempts}
	var sc statusCoder
	if errors.As(err, &sc) {
		ue.StatusCode = sc.HTTPStatus()
	}
	return ue
}

// linearBackOff waits (n+1)*step after the n-th failed attempt.
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() { b.n = 0 }
