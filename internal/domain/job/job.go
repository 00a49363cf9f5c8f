// Package job models a background ingestion job and its lifecycle.
package job

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a job.
type State string

// Job states. Pending -> Running -> Completed | Failed.
const (
	Pending   State = "pending"
	Running   State = "running"
	Completed State = "completed"
	Failed    State = "failed"
)

// ErrInvalidTransition signals a state change the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid job state transition")

// Job is an ingestion job snapshot (value object; transitions return copies).
type Job struct {
	id         string
	collection string
	source     string
	state      State
	chunks     int
	files      int
	errMsg     string
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
}

// New creates a pending job with a fresh id.
func New(collection, source string, now time.Time) Job {
	return Job{
		id:         uuid.NewString(),
		collection: collection,
		source:     source,
		state:      Pending,
		createdAt:  now,
	}
}

// Start moves a pending job to running.
func (j Job) Start(now time.Time) (Job, error) {
	if j.state != Pending {
		return j, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.state, Running)
	}
	j.state = Running
	j.startedAt = now
	return j, nil
}

// Complete moves a running job to completed.
func (j Job) Complete(now time.Time, files, chunks int) (Job, error) {
	if j.state != Running {
		return j, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.state, Completed)
	}
	j.state = Completed
	j.finishedAt = now
	j.files = files
	j.chunks = chunks
	return j, nil
}

// Fail moves a pending or running job to failed. chunks counts records
// written before the failure; they stay in the store.
func (j Job) Fail(now time.Time, chunks int, cause error) (Job, error) {
	if j.state != Running && j.state != Pending {
		return j, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.state, Failed)
	}
	j.state = Failed
	j.finishedAt = now
	j.chunks = chunks
	if cause != nil {
		j.errMsg = cause.Error()
	}
	return j, nil
}

// ID returns the job identifier.
func (j Job) ID() string { return j.id }

// Collection returns the target collection.
func (j Job) Collection() string { return j.collection }

// Source describes what is being ingested (a path or "inline").
func (j Job) Source() string { return j.source }

// State returns the current lifecycle state.
func (j Job) State() State { return j.state }

// Chunks returns the number of records written.
func (j Job) Chunks() int { return j.chunks }

// Files returns the number of files ingested.
func (j Job) Files() int { return j.files }

// Error returns the failure message, empty unless Failed.
func (j Job) Error() string { return j.errMsg }

// CreatedAt returns the submission time.
func (j Job) CreatedAt() time.Time { return j.createdAt }

// StartedAt returns when a worker picked the job up (zero while pending).
func (j Job) StartedAt() time.Time { return j.startedAt }

// FinishedAt returns when the job reached a terminal state (zero otherwise).
func (j Job) FinishedAt() time.Time { return j.finishedAt }

// Done reports whether the job reached a terminal state.
func (j Job) Done() bool { return j.state == Completed || j.state == Failed }
