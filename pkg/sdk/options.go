package ragmcp

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kailas-cloud/ragmcp/internal/chunker"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	driver     string // "sqlite" or "redis"
	sqlitePath string
	addrs      []string
	password   string
	keyPrefix  string

	embedder Embedder

	chunking chunker.Options

	retryAttempts int
	retryStep     time.Duration

	readinessTimeout time.Duration

	logger     *slog.Logger
	metricsReg prometheus.Registerer
}

// WithSQLite stores records in the SQLite database file at path.
// The file is created if missing.
func WithSQLite(path string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "sqlite"
		c.sqlitePath = path
	})
}

// WithRedis stores records in the Redis instance at addr.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "redis"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithKeyPrefix namespaces Redis keys. Ignored for SQLite.
func WithKeyPrefix(prefix string) Option {
	return optionFunc(func(c *clientConfig) {
		c.keyPrefix = prefix
	})
}

// WithEmbedder sets the embedding provider. Required for Ingest and Retrieve.
func WithEmbedder(e Embedder) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedder = e
	})
}

// WithChunking sets the chunker limits in whitespace tokens. A non-positive
// limit falls back to its default; overlap may be zero.
// Defaults: 128 per line, 512 per paragraph, 50 overlap.
func WithChunking(maxTokensPerLine, maxTokensPerParagraph, overlapTokens int) Option {
	return optionFunc(func(c *clientConfig) {
		c.chunking = chunker.Options{
			MaxTokensPerLine:      maxTokensPerLine,
			MaxTokensPerParagraph: maxTokensPerParagraph,
			OverlapTokens:         overlapTokens,
		}
	})
}

// WithRetry retries failed embedding calls up to attempts times, waiting
// (i+1)*step after attempt i. Only transport errors and 5xx responses are
// retried. Disabled by default.
func WithRetry(attempts int, step time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.retryAttempts = attempts
		c.retryStep = step
	})
}

// WithReadinessTimeout bounds the connectivity check in New. Default: 10s.
func WithReadinessTimeout(d time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.readinessTimeout = d
	})
}

// WithLogger enables structured logging for SDK operations.
// Pass nil to disable (default).
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers SDK metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
