package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragmcp/internal/domain"
	domusage "github.com/kailas-cloud/ragmcp/internal/domain/usage"
	"github.com/kailas-cloud/ragmcp/internal/metrics"
)

// BudgetAction defines behavior when token budget is exceeded.
type BudgetAction string

const (
	// BudgetActionWarn logs a warning but allows the request.
	BudgetActionWarn BudgetAction = "warn"
	// BudgetActionReject blocks the request.
	BudgetActionReject BudgetAction = "reject"
)

// BudgetLimits caps embedding tokens per UTC day and month. Zero is unlimited.
type BudgetLimits struct {
	Daily   int64
	Monthly int64
	Action  BudgetAction
}

// CounterStore persists budget counters by key.
type CounterStore interface {
	Load(ctx context.Context, key string) (int64, error)
	Save(ctx context.Context, key string, val int64) error
}

// BudgetTracker counts embedding tokens in memory and writes the counters
// behind to an optional store. Check never touches the store.
type BudgetTracker struct {
	mu          sync.Mutex
	dailyUsed   int64
	monthlyUsed int64
	day         time.Time
	month       time.Time

	limits   BudgetLimits
	provider string
	store    CounterStore
	// persistMu orders write-behind saves so a slower save never overwrites
	// a newer counter.
	persistMu sync.Mutex
	logger    *zap.Logger
	now       func() time.Time
}

// NewBudgetTracker creates a tracker for one provider.
func NewBudgetTracker(provider string, limits BudgetLimits, logger *zap.Logger) *BudgetTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limits.Action == "" {
		limits.Action = BudgetActionWarn
	}
	b := &BudgetTracker{
		limits:   limits,
		provider: provider,
		logger:   logger,
		now:      time.Now,
	}
	now := b.now().UTC()
	b.day, b.month = truncateToDay(now), truncateToMonth(now)
	return b
}

// WithStore attaches a persistence store and loads the current counters.
func (b *BudgetTracker) WithStore(ctx context.Context, store CounterStore) *BudgetTracker {
	b.store = store

	b.mu.Lock()
	defer b.mu.Unlock()

	if val, err := store.Load(ctx, b.dailyKey(b.day)); err == nil {
		b.dailyUsed = val
	} else {
		b.logger.Warn("Failed to load daily budget", zap.Error(err))
	}
	if val, err := store.Load(ctx, b.monthlyKey(b.month)); err == nil {
		b.monthlyUsed = val
	} else {
		b.logger.Warn("Failed to load monthly budget", zap.Error(err))
	}
	b.publish()

	b.logger.Info("Budget loaded",
		zap.String("provider", b.provider),
		zap.Int64("daily_used", b.dailyUsed),
		zap.Int64("monthly_used", b.monthlyUsed),
	)
	return b
}

func (b *BudgetTracker) dailyKey(t time.Time) string {
	return fmt.Sprintf("budget:%s:daily:%s", b.provider, t.Format("2006-01-02"))
}

func (b *BudgetTracker) monthlyKey(t time.Time) string {
	return fmt.Sprintf("budget:%s:monthly:%s", b.provider, t.Format("2006-01"))
}

// Check reports ErrEmbeddingQuotaExceeded when a limit is spent and the
// action is reject.
func (b *BudgetTracker) Check(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover()

	dailyExceeded := b.limits.Daily > 0 && b.dailyUsed >= b.limits.Daily
	monthlyExceeded := b.limits.Monthly > 0 && b.monthlyUsed >= b.limits.Monthly
	if !dailyExceeded && !monthlyExceeded {
		return nil
	}

	if b.limits.Action == BudgetActionReject {
		metrics.EmbeddingBudgetRejectionsTotal.WithLabelValues(b.provider).Inc()
		return domain.ErrEmbeddingQuotaExceeded
	}

	b.logger.Warn("Token budget exceeded",
		zap.String("provider", b.provider),
		zap.Int64("daily_used", b.dailyUsed),
		zap.Int64("daily_limit", b.limits.Daily),
		zap.Int64("monthly_used", b.monthlyUsed),
		zap.Int64("monthly_limit", b.limits.Monthly),
	)
	return nil
}

// Record adds consumed tokens and persists the counters when a store is attached.
func (b *BudgetTracker) Record(tokens int64) {
	if tokens <= 0 {
		return
	}
	b.mu.Lock()
	b.rollover()
	b.dailyUsed += tokens
	b.monthlyUsed += tokens
	b.publish()
	b.mu.Unlock()

	if b.store == nil {
		return
	}
	b.persist()
}

func (b *BudgetTracker) persist() {
	b.persistMu.Lock()
	defer b.persistMu.Unlock()

	b.mu.Lock()
	dailyKey, daily := b.dailyKey(b.day), b.dailyUsed
	monthlyKey, monthly := b.monthlyKey(b.month), b.monthlyUsed
	b.mu.Unlock()

	// Detached from the request so a cancelled caller still gets its tokens counted.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := b.store.Save(ctx, dailyKey, daily); err != nil {
		b.logger.Warn("Failed to persist daily budget", zap.String("key", dailyKey), zap.Error(err))
	}
	if err := b.store.Save(ctx, monthlyKey, monthly); err != nil {
		b.logger.Warn("Failed to persist monthly budget", zap.String("key", monthlyKey), zap.Error(err))
	}
}

// Counters returns the current consumption and limits.
func (b *BudgetTracker) Counters() domusage.Counters {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	return domusage.Counters{
		DailyLimit:   b.limits.Daily,
		DailyUsed:    b.dailyUsed,
		MonthlyLimit: b.limits.Monthly,
		MonthlyUsed:  b.monthlyUsed,
	}
}

// rollover zeroes counters when the UTC day or month changes. Caller holds mu.
func (b *BudgetTracker) rollover() {
	now := b.now().UTC()
	if today := truncateToDay(now); today.After(b.day) {
		b.dailyUsed = 0
		b.day = today
	}
	if thisMonth := truncateToMonth(now); thisMonth.After(b.month) {
		b.monthlyUsed = 0
		b.month = thisMonth
	}
}

// publish exports the counters as gauges. Caller holds mu.
func (b *BudgetTracker) publish() {
	metrics.EmbeddingBudgetUsed.WithLabelValues(b.provider, string(domusage.PeriodDay)).Set(float64(b.dailyUsed))
	metrics.EmbeddingBudgetUsed.WithLabelValues(b.provider, string(domusage.PeriodMonth)).Set(float64(b.monthlyUsed))
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func truncateToMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// BudgetedEmbedder checks the budget before each provider call and records
// the tokens it reports.
type BudgetedEmbedder struct {
	inner   domain.Embedder
	tracker *BudgetTracker
}

// NewBudgetedEmbedder wraps inner with budget enforcement.
func NewBudgetedEmbedder(inner domain.Embedder, tracker *BudgetTracker) *BudgetedEmbedder {
	return &BudgetedEmbedder{inner: inner, tracker: tracker}
}

// Embed checks the budget, delegates and records usage.
func (e *BudgetedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if err := e.tracker.Check(ctx); err != nil {
		return domain.EmbeddingResult{}, err
	}
	res, err := e.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, err //nolint:wrapcheck // transparent decorator
	}
	e.tracker.Record(int64(res.TotalTokens))
	return res, nil
}

// BatchEmbed checks the budget once for the whole batch.
func (e *BudgetedEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if err := e.tracker.Check(ctx); err != nil {
		return domain.BatchEmbeddingResult{}, err
	}
	res, err := domain.EmbedBatch(ctx, e.inner, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, err //nolint:wrapcheck // transparent decorator
	}
	e.tracker.Record(int64(res.TotalTokens))
	return res, nil
}

// HealthCheck delegates to inner when it supports health checks.
func (e *BudgetedEmbedder) HealthCheck(ctx context.Context) error {
	return domain.ProbeHealth(ctx, e.inner)
}
