package health

import "context"

// DBPinger is the required dependency: without the store nothing works.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// Checker is an optional dependency with a health probe.
type Checker interface {
	HealthCheck(ctx context.Context) error
}
