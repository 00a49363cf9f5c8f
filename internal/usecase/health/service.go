package health

import (
	"context"
	"sync"
	"time"
)

// Status is the aggregated health of the process.
type Status string

const (
	// Healthy means every probe passed.
	Healthy Status = "ok"
	// Degraded means the store is up but an optional probe failed.
	Degraded Status = "degraded"
	// Unhealthy means the store is unreachable.
	Unhealthy Status = "error"
)

// CheckResult is the outcome of a single probe.
type CheckResult string

const (
	CheckOK    CheckResult = "ok"
	CheckError CheckResult = "error"
)

const (
	databaseCheck       = "database"
	defaultProbeTimeout = 3 * time.Second
)

// Report is a snapshot of all probes keyed by name.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service runs the store ping and every registered probe in parallel.
type Service struct {
	db      DBPinger
	probes  map[string]Checker
	timeout time.Duration
}

// New creates a Service around the store.
func New(db DBPinger) *Service {
	return &Service{db: db, probes: map[string]Checker{}, timeout: defaultProbeTimeout}
}

// WithProbe registers an optional probe. A nil checker is skipped so callers
// can pass whatever capability assertion they got.
func (s *Service) WithProbe(name string, c Checker) *Service {
	if c != nil && name != "" && name != databaseCheck {
		s.probes[name] = c
	}
	return s
}

// WithTimeout bounds each probe. Non-positive values keep the default.
func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Check pings the store and runs the probes concurrently.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult, len(s.probes)+1)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	run := func(name string, probe func(context.Context) error) {
		defer wg.Done()
		pctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		res := CheckOK
		if err := probe(pctx); err != nil {
			res = CheckError
		}
		mu.Lock()
		checks[name] = res
		mu.Unlock()
	}

	wg.Add(1 + len(s.probes))
	go run(databaseCheck, s.db.Ping)
	for name, c := range s.probes {
		go run(name, c.HealthCheck)
	}
	wg.Wait()

	return Report{Status: aggregate(checks), Checks: checks}
}

func aggregate(checks map[string]CheckResult) Status {
	if checks[databaseCheck] == CheckError {
		return Unhealthy
	}
	for _, v := range checks {
		if v == CheckError {
			return Degraded
		}
	}
	return Healthy
}
