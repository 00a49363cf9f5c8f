package usage

import domusage "github.com/kailas-cloud/ragmcp/internal/domain/usage"

// CounterReader provides read-only access to token budget counters.
type CounterReader interface {
	Counters() domusage.Counters
}
