// Package journal records dispatcher runs and finished jobs in SQLite.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/threaddispatch/internal/dispatch"
	"github.com/mattjoyce/threaddispatch/internal/log"
)

const writeTimeout = 5 * time.Second

// Journal is a dispatch.Observer that persists every finished job.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger

	mu    sync.RWMutex
	runID string

	// JobDispatched runs under the pool lock, so stamps go into lock-free
	// maps and are written with the finished row.
	dispatched sync.Map // dispatch.JobID -> time.Time
	started    sync.Map // dispatch.JobID -> time.Time
}

var _ dispatch.Observer = (*Journal)(nil)

func New(db *sql.DB) *Journal {
	return &Journal{
		db:     db,
		logger: log.WithComponent("journal"),
	}
}

// BeginRun records the start of a dispatcher run. Jobs finished afterwards are
// attributed to runID.
func (j *Journal) BeginRun(ctx context.Context, runID string, workers int) error {
	if runID == "" {
		return fmt.Errorf("run id is empty")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := j.db.ExecContext(ctx, `
INSERT INTO pool_runs(run_id, workers, started_at)
VALUES(?, ?, ?);
`, runID, workers, now)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	j.mu.Lock()
	j.runID = runID
	j.mu.Unlock()
	return nil
}

// EndRun stamps the stop time of the current run.
func (j *Journal) EndRun(ctx context.Context) error {
	j.mu.RLock()
	runID := j.runID
	j.mu.RUnlock()
	if runID == "" {
		return fmt.Errorf("no run in progress")
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := j.db.ExecContext(ctx, `UPDATE pool_runs SET stopped_at = ? WHERE run_id = ?;`, now, runID); err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

func (j *Journal) JobDispatched(id dispatch.JobID) {
	j.dispatched.Store(id, time.Now().UTC())
}

func (j *Journal) JobStarted(id dispatch.JobID) {
	j.started.Store(id, time.Now().UTC())
}

// JobFinished inserts a job_runs row. Failures are logged; the job itself is
// unaffected.
func (j *Journal) JobFinished(id dispatch.JobID, elapsed time.Duration, jobErr error) {
	finishedAt := time.Now().UTC()
	dispatchedAt, haveDispatched := takeStamp(&j.dispatched, id)
	startedAt, haveStarted := takeStamp(&j.started, id)

	j.mu.RLock()
	runID := j.runID
	j.mu.RUnlock()
	if runID == "" {
		j.logger.Warn("job finished outside a run; not recorded", "job_id", uint64(id))
		return
	}

	if !haveStarted {
		startedAt = finishedAt.Add(-elapsed)
	}
	var dispatchedText, queueWaitMS any
	if haveDispatched {
		dispatchedText = dispatchedAt.Format(time.RFC3339Nano)
		queueWaitMS = max(startedAt.Sub(dispatchedAt), 0).Milliseconds()
	}

	status := StatusSucceeded
	var errText any
	if jobErr != nil {
		status = StatusPanicked
		errText = jobErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_, err := j.db.ExecContext(ctx, `
INSERT INTO job_runs(run_id, job_id, status, dispatched_at, started_at, finished_at, duration_ms, queue_wait_ms, error)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, runID, int64(id), status, dispatchedText, startedAt.Format(time.RFC3339Nano), finishedAt.Format(time.RFC3339Nano),
		elapsed.Milliseconds(), queueWaitMS, errText)
	if err != nil {
		j.logger.Error("failed to record job", "job_id", uint64(id), "error", err)
	}
}

func takeStamp(m *sync.Map, id dispatch.JobID) (time.Time, bool) {
	v, ok := m.LoadAndDelete(id)
	if !ok {
		return time.Time{}, false
	}
	return v.(time.Time), true
}

// Runs lists recorded runs, newest first.
func (j *Journal) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT run_id, workers, started_at, stopped_at
FROM pool_runs
ORDER BY started_at DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summary aggregates the jobs recorded for runID.
func (j *Journal) Summary(ctx context.Context, runID string) (*Summary, error) {
	row := j.db.QueryRowContext(ctx, `
SELECT run_id, workers, started_at, stopped_at
FROM pool_runs
WHERE run_id = ?;
`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	s := &Summary{Run: run}
	var (
		avgMS     sql.NullFloat64
		maxMS     sql.NullInt64
		avgWaitMS sql.NullFloat64
		maxWaitMS sql.NullInt64
	)
	err = j.db.QueryRowContext(ctx, `
SELECT
  COUNT(*),
  COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
  AVG(duration_ms),
  MAX(duration_ms),
  AVG(queue_wait_ms),
  MAX(queue_wait_ms)
FROM job_runs
WHERE run_id = ?;
`, StatusSucceeded, StatusPanicked, runID).Scan(&s.Jobs, &s.Succeeded, &s.Panicked, &avgMS, &maxMS, &avgWaitMS, &maxWaitMS)
	if err != nil {
		return nil, fmt.Errorf("summarize run: %w", err)
	}
	if avgMS.Valid {
		s.AvgDuration = time.Duration(avgMS.Float64 * float64(time.Millisecond))
	}
	if maxMS.Valid {
		s.MaxDuration = time.Duration(maxMS.Int64) * time.Millisecond
	}
	if avgWaitMS.Valid {
		s.AvgQueueWait = time.Duration(avgWaitMS.Float64 * float64(time.Millisecond))
	}
	if maxWaitMS.Valid {
		s.MaxQueueWait = time.Duration(maxWaitMS.Int64) * time.Millisecond
	}
	return s, nil
}

// Entries returns the recorded jobs of runID ordered by job ID.
func (j *Journal) Entries(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT job_id, status, dispatched_at, started_at, finished_at, duration_ms, queue_wait_ms, error
FROM job_runs
WHERE run_id = ?
ORDER BY job_id ASC;
`, runID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e           Entry
			jobID       int64
			status      string
			dispatchedS sql.NullString
			startedAtS  string
			finishedAtS string
			durationMS  int64
			queueWaitMS sql.NullInt64
			errText     sql.NullString
		)
		if err := rows.Scan(&jobID, &status, &dispatchedS, &startedAtS, &finishedAtS, &durationMS, &queueWaitMS, &errText); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.JobID = uint64(jobID)
		e.Status = Status(status)
		e.Duration = time.Duration(durationMS) * time.Millisecond
		if dispatchedS.Valid {
			if t, err := time.Parse(time.RFC3339Nano, dispatchedS.String); err == nil {
				e.DispatchedAt = &t
			}
		}
		if queueWaitMS.Valid {
			e.QueueWait = time.Duration(queueWaitMS.Int64) * time.Millisecond
		}
		if t, err := time.Parse(time.RFC3339Nano, startedAtS); err == nil {
			e.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, finishedAtS); err == nil {
			e.FinishedAt = t
		}
		if errText.Valid {
			e.Error = &errText.String
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		r          Run
		startedAtS string
		stoppedAtS sql.NullString
	)
	if err := s.Scan(&r.RunID, &r.Workers, &startedAtS, &stoppedAtS); err != nil {
		return Run{}, err
	}
	if t, err := time.Parse(time.RFC3339Nano, startedAtS); err == nil {
		r.StartedAt = t
	}
	if stoppedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, stoppedAtS.String); err == nil {
			r.StoppedAt = &t
		}
	}
	return r, nil
}
