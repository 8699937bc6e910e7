package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/eapache/queue"
	"github.com/google/uuid"

	"github.com/mattjoyce/threaddispatch/internal/log"
)

// JobID identifies a dispatched job. IDs start at 0 and are never reused within
// one Dispatcher.
type JobID uint64

// Job is a unit of work paired with its ID.
type Job struct {
	ID JobID
	Fn func()
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	Workers    int    `json:"workers"`
	Queued     int    `json:"queued"`
	InProgress int    `json:"in_progress"`
	Finished   int    `json:"finished"`
	Dispatched uint64 `json:"dispatched"`
	Completed  uint64 `json:"completed"`
	Panicked   uint64 `json:"panicked"`
}

// Dispatcher is a fixed-size worker pool with per-job completion tracking.
type Dispatcher struct {
	mu sync.Mutex
	// work wakes workers (queue non-empty or quit); done wakes waiters
	// (a job finished or the pool shut down). Both use mu.
	work *sync.Cond
	done *sync.Cond

	pending    *queue.Queue // of Job
	nextID     JobID
	inProgress int
	quit       bool
	finished   map[JobID]struct{}
	inflight   map[JobID]struct{}

	completed uint64
	panicked  uint64

	workers      []chan struct{}
	shutdownOnce sync.Once

	runID     string
	logger    *slog.Logger
	observers []Observer
}

// New starts a Dispatcher with the given number of worker goroutines.
func New(workers int, opts ...Option) (*Dispatcher, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWorkerCount, workers)
	}

	d := &Dispatcher{
		pending:  queue.New(),
		finished: make(map[JobID]struct{}),
		inflight: make(map[JobID]struct{}),
		workers:  make([]chan struct{}, workers),
		runID:    uuid.NewString(),
		logger:   log.WithComponent("dispatch"),
	}
	d.work = sync.NewCond(&d.mu)
	d.done = sync.NewCond(&d.mu)
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(slog.String("run_id", d.runID))

	for i := range d.workers {
		exited := make(chan struct{})
		d.workers[i] = exited
		go d.workLoop(i, exited)
	}

	d.logger.Info("dispatcher started", "workers", workers)
	return d, nil
}

// RunID returns the random identifier of this Dispatcher instance.
func (d *Dispatcher) RunID() string { return d.runID }

// Workers returns the fixed worker count.
func (d *Dispatcher) Workers() int { return len(d.workers) }

// Dispatch queues fn and returns its ID without waiting for it to run.
func (d *Dispatcher) Dispatch(fn func()) (JobID, error) {
	if fn == nil {
		return 0, ErrNilJob
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.quit {
		return 0, ErrClosed
	}

	id := d.nextID
	d.nextID++
	d.inProgress++
	d.inflight[id] = struct{}{}
	d.pending.Add(Job{ID: id, Fn: fn})
	d.notify("JobDispatched", id, func(o Observer) { o.JobDispatched(id) })
	d.work.Signal()
	return id, nil
}

// Finished reports whether no job is queued or executing.
func (d *Dispatcher) Finished() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inProgress == 0
}

// FinishedID reports whether id has finished and not yet been consumed.
func (d *Dispatcher) FinishedID(id JobID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.finished[id]
	return ok
}

// FinishedIDs reports whether every id has finished and none has been consumed.
// It consumes nothing. An empty set is trivially finished.
func (d *Dispatcher) FinishedIDs(ids ...JobID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		if _, ok := d.finished[id]; !ok {
			return false
		}
	}
	return true
}

// Wait blocks until no job is queued or executing.
func (d *Dispatcher) Wait() {
	_ = d.WaitContext(context.Background())
}

// WaitContext is Wait with a deadline. It returns ctx.Err() if ctx ends first.
func (d *Dispatcher) WaitContext(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waitLocked(ctx, func() (bool, error) {
		return d.inProgress == 0, nil
	})
}

// WaitID blocks until id finishes, then consumes its completion entry.
func (d *Dispatcher) WaitID(id JobID) error {
	return d.WaitIDContext(context.Background(), id)
}

// WaitIDContext is WaitID with a deadline. On timeout the entry is left in place.
func (d *Dispatcher) WaitIDContext(ctx context.Context, id JobID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waitLocked(ctx, func() (bool, error) {
		return d.consumeLocked(id)
	})
}

// JobState is where a job ID currently stands. Unlike FinishedID it tells a
// job that has not run yet apart from one whose completion was consumed.
type JobState int

const (
	// JobUnknown: the ID was never returned by Dispatch.
	JobUnknown JobState = iota
	// JobPending: queued or executing.
	JobPending
	// JobFinished: done, completion entry not yet consumed.
	JobFinished
	// JobReleased: done, and the entry was consumed by a wait or discarded by
	// ClearFinished or Shutdown.
	JobReleased
)

func (s JobState) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobFinished:
		return "finished"
	case JobReleased:
		return "released"
	default:
		return "unknown"
	}
}

// State reports where id stands without consuming anything.
func (d *Dispatcher) State(id JobID) JobState {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.finished[id]; ok {
		return JobFinished
	}
	if _, ok := d.inflight[id]; ok {
		return JobPending
	}
	if id < d.nextID {
		return JobReleased
	}
	return JobUnknown
}

// WaitIDs waits for and consumes each id in order.
func (d *Dispatcher) WaitIDs(ids ...JobID) error {
	return d.WaitIDsContext(context.Background(), ids...)
}

// WaitIDsContext is WaitIDs with a deadline. IDs consumed before the failure
// stay consumed.
func (d *Dispatcher) WaitIDsContext(ctx context.Context, ids ...JobID) error {
	for _, id := range ids {
		if err := d.WaitIDContext(ctx, id); err != nil {
			return fmt.Errorf("wait job %d: %w", id, err)
		}
	}
	return nil
}

// ClearFinished discards every unconsumed completion entry.
func (d *Dispatcher) ClearFinished() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.finished)
}

// Stats returns a snapshot of the pool counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Workers:    len(d.workers),
		Queued:     d.pending.Length(),
		InProgress: d.inProgress,
		Finished:   len(d.finished),
		Dispatched: uint64(d.nextID),
		Completed:  d.completed,
		Panicked:   d.panicked,
	}
}

// Shutdown stops accepting jobs, lets the workers drain the queue, joins every
// worker, and clears the completion tracker. Later calls return immediately.
func (d *Dispatcher) Shutdown() {
	d.shutdownOnce.Do(func() {
		d.mu.Lock()
		d.quit = true
		queued := d.pending.Length()
		d.work.Broadcast()
		d.mu.Unlock()

		d.logger.Info("dispatcher shutting down", "queued", queued)

		for i, exited := range d.workers {
			<-exited
			d.logger.Debug("joined worker", "worker", i)
		}

		d.mu.Lock()
		clear(d.finished)
		d.done.Broadcast()
		d.mu.Unlock()

		d.logger.Info("dispatcher stopped")
	})
}

// consumeLocked removes id from the tracker if present. It reports an error when
// id can never show up there.
func (d *Dispatcher) consumeLocked(id JobID) (bool, error) {
	if _, ok := d.finished[id]; ok {
		delete(d.finished, id)
		return true, nil
	}
	if id >= d.nextID {
		return false, ErrUnknownJob
	}
	if _, ok := d.inflight[id]; !ok {
		return false, ErrNotTracked
	}
	return false, nil
}

// waitLocked blocks on d.done until cond reports true or an error, or ctx ends.
// d.mu must be held.
func (d *Dispatcher) waitLocked(ctx context.Context, cond func() (bool, error)) error {
	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			d.mu.Lock()
			d.done.Broadcast()
			d.mu.Unlock()
		})
		defer stop()
	}

	for {
		ok, err := cond()
		if err != nil || ok {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		d.done.Wait()
	}
}
