package ragmcp

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type sdkMetrics struct {
	calls   *prometheus.CounterVec
	latency *prometheus.HistogramVec
	written *prometheus.CounterVec
}

func newSDKMetrics(reg prometheus.Registerer) (*sdkMetrics, error) {
	calls, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ragmcp",
		Subsystem: "sdk",
		Name:      "calls_total",
		Help:      "Client calls by method and outcome.",
	}, []string{"method", "outcome"}))
	if err != nil {
		return nil, err
	}
	latency, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ragmcp",
		Subsystem: "sdk",
		Name:      "call_duration_seconds",
		Help:      "Client call latency.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"method"}))
	if err != nil {
		return nil, err
	}
	written, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ragmcp",
		Subsystem: "sdk",
		Name:      "chunks_written_total",
		Help:      "Records appended through Ingest, per collection.",
	}, []string{"collection"}))
	if err != nil {
		return nil, err
	}
	return &sdkMetrics{calls: calls, latency: latency, written: written}, nil
}

// register adds c to reg. When an identical collector already lives there
// (two clients sharing a registry) that one is returned instead.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return c, fmt.Errorf("ragmcp: register metric: %w", err)
	}
	existing, ok := are.ExistingCollector.(T)
	if !ok {
		return c, fmt.Errorf("ragmcp: metric already registered as %T", are.ExistingCollector)
	}
	return existing, nil
}

// observer records every public Client call. A nil observer is valid.
type observer struct {
	logger  *slog.Logger
	metrics *sdkMetrics
}

func newObserver(logger *slog.Logger, reg prometheus.Registerer) (*observer, error) {
	o := &observer{logger: logger}
	if reg != nil {
		m, err := newSDKMetrics(reg)
		if err != nil {
			return nil, err
		}
		o.metrics = m
	}
	return o, nil
}

// span tracks one call from begin to end.
type span struct {
	o      *observer
	method string
	start  time.Time
	attrs  []any
}

func (o *observer) begin(method string, attrs ...any) *span {
	if o == nil {
		return nil
	}
	return &span{o: o, method: method, start: time.Now(), attrs: attrs}
}

// add appends log attributes known only once the call returns.
func (s *span) add(attrs ...any) {
	if s != nil {
		s.attrs = append(s.attrs, attrs...)
	}
}

// written counts records appended to collection.
func (s *span) written(collection string, n int) {
	if s == nil || s.o.metrics == nil || n <= 0 {
		return
	}
	s.o.metrics.written.WithLabelValues(collection).Add(float64(n))
}

func (s *span) end(err error) {
	if s == nil {
		return
	}
	elapsed := time.Since(s.start)

	if m := s.o.metrics; m != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		m.calls.WithLabelValues(s.method, outcome).Inc()
		m.latency.WithLabelValues(s.method).Observe(elapsed.Seconds())
	}

	if s.o.logger == nil {
		return
	}
	attrs := append([]any{"op", s.method, "duration", elapsed}, s.attrs...)
	if err != nil {
		s.o.logger.Warn("ragmcp call failed", append(attrs, "error", err)...)
		return
	}
	s.o.logger.Debug("ragmcp call completed", attrs...)
}
