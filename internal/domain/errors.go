package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument signals a missing or malformed argument.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnsupportedContent signals binary or otherwise non-text input.
	ErrUnsupportedContent = errors.New("unsupported content")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")

	// ErrEmbeddingUnavailable signals that the embedding endpoint failed permanently
	// or kept failing after all retries.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrEmbeddingQuotaExceeded signals an exhausted embedding token budget.
	ErrEmbeddingQuotaExceeded = errors.New("embedding quota exceeded")
	// ErrStoreUnavailable signals that the backing store cannot be opened or queried.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrCompletionUnavailable signals a chat completion failure.
	ErrCompletionUnavailable = errors.New("completion unavailable")

	// ErrJobNotFound signals an unknown ingestion job id.
	ErrJobNotFound = errors.New("job not found")
	// ErrQueueFull signals that the ingestion job queue is at capacity.
	ErrQueueFull = errors.New("job queue full")
)

// UpstreamError carries the status and body of a failed embedding call.
type UpstreamError struct {
	StatusCode int
	Body       string
	Attempts   int
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s after %d attempts: %s", ErrEmbeddingUnavailable.Error(), e.Attempts, e.Body)
	}
	return fmt.Sprintf("%s after %d attempts: status %d: %s",
		ErrEmbeddingUnavailable.Error(), e.Attempts, e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error { return ErrEmbeddingUnavailable }

// DimMismatchError wraps ErrVectorDimMismatch with the expected and actual sizes.
type DimMismatchError struct {
	Collection string
	Expected   int
	Got        int
}

func (e *DimMismatchError) Error() string {
	return fmt.Sprintf("%s: collection %q stores %d dimensions, got %d",
		ErrVectorDimMismatch.Error(), e.Collection, e.Expected, e.Got)
}

func (e *DimMismatchError) Unwrap() error { return ErrVectorDimMismatch }
