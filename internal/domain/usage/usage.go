package usage

import (
	"fmt"
	"time"

	"github.com/kailas-cloud/ragmcp/internal/domain"
)

// Period is the aggregation granularity of a usage report.
type Period string

// Report periods.
const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

// ParsePeriod validates a period name. Empty means PeriodDay.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "", PeriodDay:
		return PeriodDay, nil
	case PeriodMonth:
		return PeriodMonth, nil
	default:
		return "", fmt.Errorf("%w: period must be %q or %q", domain.ErrInvalidArgument, PeriodDay, PeriodMonth)
	}
}

// Counters is a point-in-time view of embedding token consumption.
// A zero limit means unlimited.
type Counters struct {
	DailyLimit   int64
	DailyUsed    int64
	MonthlyLimit int64
	MonthlyUsed  int64
}

// Report summarizes embedding token consumption for one period.
type Report struct {
	Period      Period
	PeriodStart time.Time
	PeriodEnd   time.Time
	TokensUsed  int64
	TokensLimit int64
	// TokensRemaining is -1 when the period has no limit.
	TokensRemaining int64
	Exhausted       bool
}

// NewReport builds a report for the period containing now.
func NewReport(period Period, now time.Time, c Counters) Report {
	now = now.UTC()
	r := Report{Period: period}

	switch period {
	case PeriodMonth:
		r.PeriodStart = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		r.PeriodEnd = r.PeriodStart.AddDate(0, 1, 0)
		r.TokensUsed, r.TokensLimit = c.MonthlyUsed, c.MonthlyLimit
	default:
		r.PeriodStart = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		r.PeriodEnd = r.PeriodStart.AddDate(0, 0, 1)
		r.TokensUsed, r.TokensLimit = c.DailyUsed, c.DailyLimit
	}

	r.TokensRemaining = -1
	if r.TokensLimit > 0 {
		r.TokensRemaining = max(r.TokensLimit-r.TokensUsed, 0)
		r.Exhausted = r.TokensRemaining == 0
	}
	return r
}
