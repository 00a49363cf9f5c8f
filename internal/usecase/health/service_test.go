package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

// --- Mocks ---

type mockDB struct{ err error }

func (m *mockDB) Ping(context.Context) error { return m.err }

type mockProbe struct{ err error }

func (m *mockProbe) HealthCheck(context.Context) error { return m.err }

type slowProbe struct{}

func (slowProbe) HealthCheck(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// --- Tests ---

func TestCheck(t *testing.T) {
	down := errors.New("down")

	tests := []struct {
		name   string
		db     error
		probes map[string]Checker
		status Status
		checks map[string]CheckResult
	}{
		{
			name:   "store only",
			status: Healthy,
			checks: map[string]CheckResult{"database": CheckOK},
		},
		{
			name:   "all healthy",
			probes: map[string]Checker{"embedding": &mockProbe{}, "chat": &mockProbe{}},
			status: Healthy,
			checks: map[string]CheckResult{"database": CheckOK, "embedding": CheckOK, "chat": CheckOK},
		},
		{
			name:   "optional probe fails",
			probes: map[string]Checker{"embedding": &mockProbe{err: down}, "chat": &mockProbe{}},
			status: Degraded,
			checks: map[string]CheckResult{"database": CheckOK, "embedding": CheckError, "chat": CheckOK},
		},
		{
			name:   "store down",
			db:     down,
			probes: map[string]Checker{"embedding": &mockProbe{}},
			status: Unhealthy,
			checks: map[string]CheckResult{"database": CheckError, "embedding": CheckOK},
		},
		{
			name:   "everything down",
			db:     down,
			probes: map[string]Checker{"embedding": &mockProbe{err: down}},
			status: Unhealthy,
			checks: map[string]CheckResult{"database": CheckError, "embedding": CheckError},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := New(&mockDB{err: tc.db})
			for name, p := range tc.probes {
				svc.WithProbe(name, p)
			}
			r := svc.Check(context.Background())

			if r.Status != tc.status {
				t.Errorf("status = %q, want %q", r.Status, tc.status)
			}
			if len(r.Checks) != len(tc.checks) {
				t.Fatalf("checks = %v, want %v", r.Checks, tc.checks)
			}
			for k, want := range tc.checks {
				if r.Checks[k] != want {
					t.Errorf("%s = %q, want %q", k, r.Checks[k], want)
				}
			}
		})
	}
}

func TestWithProbe_SkipsNilAndReservedNames(t *testing.T) {
	r := New(&mockDB{}).
		WithProbe("chat", nil).
		WithProbe("", &mockProbe{}).
		WithProbe("database", &mockProbe{err: errors.New("shadow")}).
		Check(context.Background())

	if len(r.Checks) != 1 || r.Checks["database"] != CheckOK {
		t.Errorf("checks = %v, want only a passing database", r.Checks)
	}
}

func TestCheck_ProbeTimeout(t *testing.T) {
	svc := New(&mockDB{}).WithProbe("chat", slowProbe{}).WithTimeout(20 * time.Millisecond)

	start := time.Now()
	r := svc.Check(context.Background())

	if time.Since(start) > time.Second {
		t.Fatal("slow probe was not bounded by the timeout")
	}
	if r.Checks["chat"] != CheckError || r.Status != Degraded {
		t.Errorf("report = %+v, want chat error and degraded", r)
	}
}
