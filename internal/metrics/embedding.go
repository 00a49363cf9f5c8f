package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ragmcp"

func embeddingCounter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "embedding",
		Name:      name,
		Help:      help,
	}, labels)
}

// Embedding provider metrics. Transports record requests, latency, tokens
// and errors; decorators record retries, cache lookups and the budget.
var (
	EmbeddingRequestsTotal = embeddingCounter("requests_total",
		"Provider calls by outcome.", "provider", "model", "status")

	EmbeddingRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "embedding",
		Name:      "request_duration_seconds",
		Help:      "Provider call latency.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"provider", "model"})

	// type is "prompt" or "total".
	EmbeddingTokensTotal = embeddingCounter("tokens_total",
		"Tokens billed by the provider.", "provider", "model", "type")

	EmbeddingErrorsTotal = embeddingCounter("errors_total",
		"Failed provider calls by error kind.", "provider", "model", "error_type")

	EmbeddingRetriesTotal = embeddingCounter("retries_total",
		"Attempts retried after a transient failure.", "provider", "model")

	// result is "hit" or "miss".
	EmbeddingCacheTotal = embeddingCounter("cache_total",
		"Embedding cache lookups.", "result")

	// period is "day" or "month".
	EmbeddingBudgetUsed = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "embedding",
		Name:      "budget_tokens_used",
		Help:      "Tokens counted against the budget in the current period.",
	}, []string{"provider", "period"})

	EmbeddingBudgetRejectionsTotal = embeddingCounter("budget_rejections_total",
		"Calls refused because the token budget is spent.", "provider")
)

var registerEmbeddingOnce sync.Once

// RegisterEmbeddingMetrics registers the embedding collectors with the
// default registry. Safe to call more than once.
func RegisterEmbeddingMetrics() {
	registerEmbeddingOnce.Do(func() {
		prometheus.MustRegister(
			EmbeddingRequestsTotal,
			EmbeddingRequestDuration,
			EmbeddingTokensTotal,
			EmbeddingErrorsTotal,
			EmbeddingRetriesTotal,
			EmbeddingCacheTotal,
			EmbeddingBudgetUsed,
			EmbeddingBudgetRejectionsTotal,
		)
	})
}
