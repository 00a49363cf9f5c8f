package usage

import (
	"context"
	"time"

	domusage "github.com/kailas-cloud/ragmcp/internal/domain/usage"
)

// Service handles embedding usage reporting.
type Service struct {
	counters CounterReader
	now      func() time.Time
}

// New creates a Service. counters can be nil (nothing tracked).
func New(counters CounterReader) *Service {
	return &Service{counters: counters, now: time.Now}
}

// Report builds a usage report for the current period.
func (s *Service) Report(_ context.Context, period domusage.Period) domusage.Report {
	var c domusage.Counters
	if s.counters != nil {
		c = s.counters.Counters()
	}
	return domusage.NewReport(period, s.now(), c)
}
