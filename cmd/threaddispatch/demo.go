package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattjoyce/threaddispatch/internal/config"
	"github.com/mattjoyce/threaddispatch/internal/dispatch"
	"github.com/mattjoyce/threaddispatch/internal/journal"
	"github.com/mattjoyce/threaddispatch/internal/log"
	"github.com/mattjoyce/threaddispatch/internal/metrics"
	"github.com/mattjoyce/threaddispatch/internal/storage"
	"github.com/mattjoyce/threaddispatch/internal/workload"
)

// demoReport is what one demo run observed.
type demoReport struct {
	RunID       string            `json:"run_id"`
	Workers     int               `json:"workers"`
	Jobs        int               `json:"jobs"`
	WaitedOne   *uint64           `json:"waited_one,omitempty"`
	WaitedSet   []uint64          `json:"waited_set"`
	LastID      uint64            `json:"last_id"`
	LastDone    bool              `json:"last_finished"`
	SampleSet   []uint64          `json:"sample_set"`
	SampleDone  bool              `json:"sample_finished"`
	AllDone     bool              `json:"all_finished_before_wait"`
	Stats       dispatch.Stats    `json:"stats"`
	Metrics     *metrics.Snapshot `json:"metrics,omitempty"`
	ElapsedMS   int64             `json:"elapsed_ms"`
	JournalPath string            `json:"journal_path,omitempty"`
}

func runDemo(args []string) int {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	workers := fs.Int("workers", 0, "Worker count (overrides pool.workers)")
	jobs := fs.Int("jobs", 0, "Jobs to dispatch (overrides pool.demo_jobs)")
	kind := fs.String("workload", workload.KindNoop, "Job body: noop, sleep, spin, or panic")
	duration := fs.Duration("duration", 0, "Per-job duration for sleep and spin")
	jsonOut := fs.Bool("json", false, "Output the report as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	if *workers > 0 {
		cfg.Pool.Workers = *workers
	}
	if *jobs > 0 {
		cfg.Pool.DemoJobs = *jobs
	}

	fn, err := workload.New(*kind, *duration)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	log.SetupWriter(os.Stderr, cfg.Service.LogLevel, cfg.Service.LogFormat)

	report, err := runDemoScenario(context.Background(), cfg, fn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Demo failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	printDemoReport(os.Stdout, report)
	return 0
}

// runDemoScenario drives one pool through dispatch, single/multi/global waits,
// non-blocking checks, and shutdown. IDs the run never reaches are skipped.
func runDemoScenario(ctx context.Context, cfg *config.Config, fn func()) (*demoReport, error) {
	var opts []dispatch.Option

	var jr *journal.Journal
	if cfg.Journal.Enabled {
		db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		defer db.Close()
		jr = journal.New(db)
		opts = append(opts, dispatch.WithObserver(jr))
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		var err error
		if m, err = metrics.New(cfg.Metrics.Namespace); err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		opts = append(opts, dispatch.WithObserver(m))
	}

	d, err := dispatch.New(cfg.Pool.Workers, opts...)
	if err != nil {
		return nil, err
	}
	defer d.Shutdown()

	if jr != nil {
		if err := jr.BeginRun(ctx, d.RunID(), cfg.Pool.Workers); err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
	}

	start := time.Now()
	n := cfg.Pool.DemoJobs
	report := &demoReport{RunID: d.RunID(), Workers: cfg.Pool.Workers, Jobs: n}

	ids := make([]dispatch.JobID, n)
	for i := range n {
		if ids[i], err = d.Dispatch(fn); err != nil {
			return nil, fmt.Errorf("dispatch %d: %w", i, err)
		}
	}

	inRange := func(want ...uint64) []dispatch.JobID {
		var out []dispatch.JobID
		for _, i := range want {
			if i < uint64(n) {
				out = append(out, ids[i])
			}
		}
		return out
	}
	toUint := func(in []dispatch.JobID) []uint64 {
		out := make([]uint64, len(in))
		for i, id := range in {
			out[i] = uint64(id)
		}
		return out
	}

	if one := inRange(4); len(one) == 1 {
		if err := d.WaitIDContext(ctx, one[0]); err != nil {
			return nil, fmt.Errorf("wait job %d: %w", one[0], err)
		}
		v := uint64(one[0])
		report.WaitedOne = &v
	}

	set := inRange(1, 25, 500)
	if err := d.WaitIDsContext(ctx, set...); err != nil {
		return nil, err
	}
	report.WaitedSet = toUint(set)

	if n > 0 {
		report.LastID = uint64(ids[n-1])
		report.LastDone = d.FinishedID(ids[n-1])
	}

	sample := inRange(5, 50, 600)
	report.SampleSet = toUint(sample)
	report.SampleDone = d.FinishedIDs(sample...)
	report.AllDone = d.Finished()

	if err := d.WaitContext(ctx); err != nil {
		return nil, err
	}
	report.Stats = d.Stats()
	report.ElapsedMS = time.Since(start).Milliseconds()

	d.Shutdown()
	if m != nil {
		snap, err := m.Snapshot()
		if err != nil {
			return nil, err
		}
		report.Metrics = &snap
	}
	if jr != nil {
		if err := jr.EndRun(ctx); err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
		report.JournalPath = cfg.Journal.Path
	}

	return report, nil
}

func printDemoReport(w io.Writer, r *demoReport) {
	fmt.Fprintf(w, "pool started: run=%s workers=%d\n", r.RunID, r.Workers)
	fmt.Fprintf(w, "dispatched %d jobs\n", r.Jobs)
	if r.WaitedOne != nil {
		fmt.Fprintf(w, "waited for job %d\n", *r.WaitedOne)
	}
	fmt.Fprintf(w, "waited for jobs %v\n", r.WaitedSet)
	if r.Jobs > 0 {
		fmt.Fprintf(w, "job %d finished: %t\n", r.LastID, r.LastDone)
	}
	fmt.Fprintf(w, "jobs %v finished: %t\n", r.SampleSet, r.SampleDone)
	fmt.Fprintf(w, "all jobs finished: %t\n", r.AllDone)
	fmt.Fprintf(w, "drained in %dms (completed=%d panicked=%d)\n", r.ElapsedMS, r.Stats.Completed, r.Stats.Panicked)
	if m := r.Metrics; m != nil {
		fmt.Fprintf(w, "metrics: dispatched=%d completed=%d panicked=%d mean_latency=%s\n",
			m.Dispatched, m.Completed, m.Panicked, m.MeanLatency)
	}
	if r.JournalPath != "" {
		fmt.Fprintf(w, "journal: %s\n", r.JournalPath)
	}
	fmt.Fprintln(w, "pool stopped")
}
