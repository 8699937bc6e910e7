package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidWorkerCount is returned by New when the worker count is not positive.
	ErrInvalidWorkerCount = errors.New("worker count must be positive")

	// ErrClosed is returned by Dispatch once Shutdown has begun.
	ErrClosed = errors.New("dispatcher is shut down")

	// ErrNilJob is returned by Dispatch when fn is nil.
	ErrNilJob = errors.New("job func is nil")

	// ErrUnknownJob is returned when waiting on an ID that was never dispatched.
	ErrUnknownJob = errors.New("job id was never dispatched")

	// ErrNotTracked is returned when waiting on an ID that was dispatched but whose
	// completion has already been consumed or cleared.
	ErrNotTracked = errors.New("job id is no longer tracked")
)

// PanicError describes a job body that panicked. The job still counts as finished.
type PanicError struct {
	ID    JobID
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job %d panicked: %v", e.ID, e.Value)
}
