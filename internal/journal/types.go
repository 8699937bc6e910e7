package journal

import (
	"errors"
	"time"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusPanicked  Status = "panicked"
)

var ErrRunNotFound = errors.New("run not found")

// Run is one dispatcher lifetime as recorded in pool_runs.
type Run struct {
	RunID     string     `json:"run_id"`
	Workers   int        `json:"workers"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
}

// Summary aggregates the job_runs rows of a single run.
type Summary struct {
	Run         Run           `json:"run"`
	Jobs        int           `json:"jobs"`
	Succeeded   int           `json:"succeeded"`
	Panicked    int           `json:"panicked"`
	AvgDuration time.Duration `json:"avg_duration_ns"`
	MaxDuration time.Duration `json:"max_duration_ns"`
	// Queue waits cover the time from Dispatch until a worker picked the job up.
	AvgQueueWait time.Duration `json:"avg_queue_wait_ns"`
	MaxQueueWait time.Duration `json:"max_queue_wait_ns"`
}

// Entry is one finished job. DispatchedAt is nil for rows written before the
// journal tracked dispatch times.
type Entry struct {
	JobID        uint64        `json:"job_id"`
	Status       Status        `json:"status"`
	DispatchedAt *time.Time    `json:"dispatched_at,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	Duration     time.Duration `json:"duration_ns"`
	QueueWait    time.Duration `json:"queue_wait_ns"`
	Error        *string       `json:"error,omitempty"`
}
