package dispatch

import "time"

//go:generate mockgen -destination=mocks/mock_observer.go -package=mocks github.com/mattjoyce/threaddispatch/internal/dispatch Observer

// Observer receives job lifecycle notifications.
//
// JobDispatched is called with the pool lock held, so implementations must not
// call back into the Dispatcher from it. JobStarted and JobFinished run on the
// worker goroutine, outside the lock, before completion becomes visible to
// FinishedID / WaitID.
type Observer interface {
	JobDispatched(id JobID)
	JobStarted(id JobID)
	// JobFinished reports how long the body ran. err is a *PanicError when the
	// body panicked and nil otherwise.
	JobFinished(id JobID, elapsed time.Duration, err error)
}

// notify calls hook on every observer. A panicking observer is logged and
// skipped so it cannot take a worker or a Dispatch caller down with it.
func (d *Dispatcher) notify(hook string, id JobID, call func(Observer)) {
	for _, obs := range d.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("observer panicked", "hook", hook, "job_id", uint64(id), "panic", r)
				}
			}()
			call(obs)
		}()
	}
}
