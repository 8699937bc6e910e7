package events

import (
	"time"

	"github.com/mattjoyce/threaddispatch/internal/dispatch"
)

// Event types published by Observer.
const (
	TypeJobDispatched = "job.dispatched"
	TypeJobStarted    = "job.started"
	TypeJobFinished   = "job.finished"
	TypeJobFailed     = "job.failed"
)

// JobEvent is the JSON payload of every job.* event.
type JobEvent struct {
	RunID     string `json:"run_id,omitempty"`
	JobID     uint64 `json:"job_id"`
	ElapsedMS int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Observer publishes dispatcher lifecycle notifications onto a Hub.
type Observer struct {
	hub   *Hub
	runID string
}

var _ dispatch.Observer = (*Observer)(nil)

func NewObserver(hub *Hub) *Observer {
	return &Observer{hub: hub}
}

// SetRunID tags subsequent events with runID. Call before the first Dispatch.
func (o *Observer) SetRunID(runID string) { o.runID = runID }

func (o *Observer) JobDispatched(id dispatch.JobID) {
	o.hub.Publish(TypeJobDispatched, JobEvent{RunID: o.runID, JobID: uint64(id)})
}

func (o *Observer) JobStarted(id dispatch.JobID) {
	o.hub.Publish(TypeJobStarted, JobEvent{RunID: o.runID, JobID: uint64(id)})
}

func (o *Observer) JobFinished(id dispatch.JobID, elapsed time.Duration, err error) {
	ev := JobEvent{RunID: o.runID, JobID: uint64(id), ElapsedMS: elapsed.Milliseconds()}
	if err != nil {
		ev.Error = err.Error()
		o.hub.Publish(TypeJobFailed, ev)
		return
	}
	o.hub.Publish(TypeJobFinished, ev)
}
