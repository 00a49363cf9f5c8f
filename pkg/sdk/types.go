package ragmcp

// SearchResult is a single ranked chunk.
type SearchResult struct {
	Text       string
	SourcePath string
	// Score is the cosine similarity to the query, in [-1, 1].
	Score float64
}

// IngestResult reports the outcome of one Ingest call.
type IngestResult struct {
	Chunks  int
	Written int
	// Skipped is set when the content was rejected as non-text.
	Skipped bool
}

// FileStatus is the outcome of one file in IngestDir.
type FileStatus string

// File statuses.
const (
	FileOK      FileStatus = "ok"
	FileSkipped FileStatus = "skipped"
	FileError   FileStatus = "error"
)

// FileResult is the outcome of ingesting one file of a directory.
type FileResult struct {
	Path   string
	Status FileStatus
	Chunks int
	Err    error
}
