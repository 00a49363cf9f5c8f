package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// RPC and ingestion job metrics.
var (
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "Total RPC requests handled by the stdio server",
		},
		[]string{"method", "tool", "code"}, // code "0" on success
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_request_duration_seconds",
			Help:      "RPC request handling duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"method", "tool"},
	)

	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_jobs_total",
			Help:      "Ingestion jobs by terminal state",
		},
		[]string{"state"},
	)

	JobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_jobs_in_flight",
			Help:      "Ingestion jobs pending or running",
		},
	)
)

var (
	rpcMetricsOnce sync.Once
	jobMetricsOnce sync.Once
)

// RegisterRPCMetrics registers RPC server metrics.
func RegisterRPCMetrics() {
	rpcMetricsOnce.Do(func() {
		prometheus.MustRegister(RPCRequestsTotal)
		prometheus.MustRegister(RPCRequestDuration)
	})
}

// RegisterJobMetrics registers ingestion job metrics.
func RegisterJobMetrics() {
	jobMetricsOnce.Do(func() {
		prometheus.MustRegister(JobsTotal)
		prometheus.MustRegister(JobsInFlight)
	})
}
