package dispatch

import (
	"runtime/debug"
	"time"
)

// workLoop is run by each worker goroutine. It exits only once quit is set and
// the queue is empty, so every dispatched job runs before Shutdown returns.
func (d *Dispatcher) workLoop(n int, exited chan<- struct{}) {
	defer close(exited)

	logger := d.logger.With("worker", n)
	logger.Debug("worker started")
	defer logger.Debug("worker exited")

	for {
		job, ok := d.take()
		if !ok {
			return
		}
		d.complete(job.ID, d.execute(job))
	}
}

// take blocks until a job is queued or the pool is quitting with an empty
// queue, in which case ok is false.
func (d *Dispatcher) take() (job Job, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for d.pending.Length() == 0 && !d.quit {
		d.work.Wait()
	}
	if d.pending.Length() == 0 {
		return Job{}, false
	}
	return d.pending.Remove().(Job), true
}

// complete makes id visible to FinishedID and WaitID.
func (d *Dispatcher) complete(id JobID, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.finished[id] = struct{}{}
	delete(d.inflight, id)
	d.inProgress--
	d.completed++
	if err != nil {
		d.panicked++
	}
	d.done.Broadcast()
}

// execute runs the job body between the JobStarted and JobFinished hooks. It
// returns a *PanicError when the body panicked.
func (d *Dispatcher) execute(job Job) error {
	d.notify("JobStarted", job.ID, func(o Observer) { o.JobStarted(job.ID) })

	start := time.Now()
	err := d.run(job)
	elapsed := time.Since(start)

	d.notify("JobFinished", job.ID, func(o Observer) { o.JobFinished(job.ID, elapsed, err) })
	return err
}

func (d *Dispatcher) run(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{ID: job.ID, Value: r, Stack: debug.Stack()}
			d.logger.Error("job panicked", "job_id", uint64(job.ID), "panic", r)
		}
	}()
	job.Fn()
	return nil
}
