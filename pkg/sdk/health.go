package ragmcp

import (
	"context"
	"sort"

	healthuc "github.com/kailas-cloud/ragmcp/internal/usecase/health"
)

// HealthStatus is the store and embedder health. Status is "ok",
// "degraded" (embedder failing) or "error" (store unreachable).
type HealthStatus struct {
	Status string
	Checks map[string]string
}

// OK reports whether every probe passed.
func (h HealthStatus) OK() bool { return h.Status == string(healthuc.Healthy) }

// Failing lists the failed components in lexical order.
func (h HealthStatus) Failing() []string {
	var out []string
	for name, res := range h.Checks {
		if res != string(healthuc.CheckOK) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Health probes the store and, when it implements HealthChecker, the embedder.
func (c *Client) Health(ctx context.Context) HealthStatus {
	report := c.healthSvc.Check(ctx)
	h := HealthStatus{Status: string(report.Status), Checks: make(map[string]string, len(report.Checks))}
	for name, res := range report.Checks {
		h.Checks[name] = string(res)
	}
	return h
}

type healthUseCase interface {
	Check(ctx context.Context) healthuc.Report
}
