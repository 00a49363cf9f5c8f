package batch

// ItemStatus is the processing outcome of a single file in a directory ingest.
type ItemStatus string

// Item status values.
const (
	StatusOK      ItemStatus = "ok"
	StatusSkipped ItemStatus = "skipped"
	StatusError   ItemStatus = "error"
)

// Result is the outcome of ingesting one file.
type Result struct {
	path   string
	status ItemStatus
	chunks int
	err    error
}

// NewOK creates a successful result with the number of chunks written.
func NewOK(path string, chunks int) Result {
	return Result{path: path, status: StatusOK, chunks: chunks}
}

// NewSkipped creates a result for a file that was not ingested (binary or empty).
func NewSkipped(path string) Result { return Result{path: path, status: StatusSkipped} }

// NewError creates a failed result. chunks counts records written before the failure.
func NewError(path string, chunks int, err error) Result {
	return Result{path: path, status: StatusError, chunks: chunks, err: err}
}

// Path returns the file path.
func (r Result) Path() string { return r.path }

// Status returns the processing outcome.
func (r Result) Status() ItemStatus { return r.status }

// Chunks returns the number of records written for the file.
func (r Result) Chunks() int { return r.chunks }

// Err returns the error, if any.
func (r Result) Err() error { return r.err }

// Summary counts results by status and totals written chunks.
type Summary struct {
	OK, Skipped, Failed int
	Chunks              int
}

// Summarize aggregates per-file results.
func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		switch r.status {
		case StatusOK:
			s.OK++
		case StatusSkipped:
			s.Skipped++
		case StatusError:
			s.Failed++
		}
		s.Chunks += r.chunks
	}
	return s
}
