// Package dispatch implements a fixed-size in-process worker pool.
//
// A Dispatcher owns a FIFO of pending jobs, N long-lived worker goroutines, and a
// completion tracker. Callers submit work with Dispatch and receive a job ID that
// is unique and strictly increasing for the lifetime of the Dispatcher. Completion
// is observed per ID (FinishedID / WaitID), per set (FinishedIDs / WaitIDs), or
// globally (Finished / Wait).
//
// Key behaviour:
//   - IDs are assigned in Dispatch call order, starting at 0
//   - Jobs are started in FIFO order; completion order is unspecified
//   - Job bodies run without the pool lock held
//   - A panicking job is recovered; the worker keeps running and the ID is still
//     marked finished
//   - WaitID consumes the tracker entry; FinishedID does not
//   - Wait blocks until nothing is queued or executing
//
// Misuse is reported rather than hanging:
//   - Dispatch after Shutdown returns ErrClosed
//   - WaitID on an ID never dispatched returns ErrUnknownJob
//   - WaitID on an ID already consumed or cleared returns ErrNotTracked
//
// The *Context wait variants accept a deadline. A wait that times out returns
// ctx.Err() and leaves the tracker untouched.
//
// Shutdown drains the queue, joins every worker in order, and clears the tracker.
// Calling it more than once is a no-op.
package dispatch
