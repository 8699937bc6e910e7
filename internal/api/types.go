package api

import "github.com/mattjoyce/threaddispatch/internal/dispatch"

// DispatchRequest is the JSON body for POST /jobs.
type DispatchRequest struct {
	Workload   string `json:"workload"`
	DurationMS int64  `json:"duration_ms"`
	Count      int    `json:"count"`
}

// DispatchResponse is returned when jobs are queued. When the pool shuts down
// part way through a request it comes back with a 503, Error set, and JobIDs
// listing the jobs that were queued before that and will still run.
type DispatchResponse struct {
	RunID  string   `json:"run_id"`
	JobIDs []uint64 `json:"job_ids"`
	Error  string   `json:"error,omitempty"`
}

// JobStatusResponse is returned by GET /jobs/{id} and the wait endpoint.
type JobStatusResponse struct {
	JobID    uint64 `json:"job_id"`
	Finished bool   `json:"finished"`
	// InFlight is true while the job is queued or executing.
	InFlight bool `json:"in_flight"`
	// State is one of pending, finished, released.
	State string `json:"state"`
	// Consumed is set once a wait has removed the completion entry.
	Consumed bool `json:"consumed,omitempty"`
}

// WaitResponse is returned by POST /wait.
type WaitResponse struct {
	Status string         `json:"status"`
	Stats  dispatch.Stats `json:"stats"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string         `json:"status"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	RunID         string         `json:"run_id"`
	Pool          dispatch.Stats `json:"pool"`
}
