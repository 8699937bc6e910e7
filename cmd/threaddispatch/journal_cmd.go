package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/threaddispatch/internal/journal"
	"github.com/mattjoyce/threaddispatch/internal/storage"
)

var journalActions = []command{
	{
		name:  "list",
		usage: "journal list [--config PATH] [--limit N] [--json]",
		about: "List recorded pool runs, newest first.",
		run:   runJournalList,
	},
	{
		name:  "show",
		usage: "journal show <run-id> [--config PATH] [--jobs] [--json]",
		about: "Summarize one run. --jobs adds the per-job entries.",
		run:   runJournalShow,
	},
}

// openJournal opens the configured journal database read-side.
func openJournal(ctx context.Context, configPath string) (*journal.Journal, func(), error) {
	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		return nil, nil, err
	}
	if _, err := os.Stat(cfg.Journal.Path); err != nil {
		return nil, nil, fmt.Errorf("no journal at %s: %w", cfg.Journal.Path, err)
	}
	db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
	if err != nil {
		return nil, nil, err
	}
	return journal.New(db), func() { _ = db.Close() }, nil
}

func runJournalList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", 20, "Maximum runs to show")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	jr, closeFn, err := openJournal(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeFn()

	runs, err := jr.Runs(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		if runs == nil {
			runs = []journal.Run{}
		}
		data, _ := json.MarshalIndent(runs, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return 0
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tWORKERS\tSTARTED\tSTOPPED")
	for _, r := range runs {
		stopped := "-"
		if r.StoppedAt != nil {
			stopped = r.StoppedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", r.RunID, r.Workers, r.StartedAt.Local().Format(time.DateTime), stopped)
	}
	_ = tw.Flush()
	return 0
}

type journalShowOutput struct {
	Summary *journal.Summary `json:"summary"`
	Jobs    []journal.Entry  `json:"jobs,omitempty"`
}

func runJournalShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	withJobs := fs.Bool("jobs", false, "Include every recorded job")
	jsonOut := fs.Bool("json", false, "Output in JSON")

	flagArgs, positionals := splitFlagsAndPositionals(args, map[string]bool{"config": true})
	if err := fs.Parse(flagArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	positionals = append(positionals, fs.Args()...)
	if len(positionals) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: threaddispatch journal show <run-id> [--jobs] [--json]")
		return 1
	}
	runID := positionals[0]

	ctx := context.Background()
	jr, closeFn, err := openJournal(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeFn()

	summary, err := jr.Summary(ctx, runID)
	if errors.Is(err, journal.ErrRunNotFound) {
		fmt.Fprintf(os.Stderr, "Run %s not found\n", runID)
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	out := journalShowOutput{Summary: summary}
	if *withJobs {
		if out.Jobs, err = jr.Entries(ctx, runID); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	printJournalSummary(os.Stdout, out)
	return 0
}

func printJournalSummary(w io.Writer, out journalShowOutput) {
	s := out.Summary
	fmt.Fprintf(w, "Run:       %s\n", s.Run.RunID)
	fmt.Fprintf(w, "Workers:   %d\n", s.Run.Workers)
	fmt.Fprintf(w, "Started:   %s\n", s.Run.StartedAt.Local().Format(time.DateTime))
	if s.Run.StoppedAt != nil {
		fmt.Fprintf(w, "Stopped:   %s\n", s.Run.StoppedAt.Local().Format(time.DateTime))
	} else {
		fmt.Fprintln(w, "Stopped:   - (still running or crashed)")
	}
	fmt.Fprintf(w, "Jobs:      %d (succeeded %d, panicked %d)\n", s.Jobs, s.Succeeded, s.Panicked)
	fmt.Fprintf(w, "Duration:  avg %s, max %s\n", s.AvgDuration, s.MaxDuration)
	fmt.Fprintf(w, "Queued:    avg %s, max %s\n", s.AvgQueueWait, s.MaxQueueWait)

	if len(out.Jobs) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTATUS\tQUEUED\tDURATION\tERROR")
	for _, e := range out.Jobs {
		errText := ""
		if e.Error != nil {
			errText = *e.Error
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", e.JobID, e.Status, e.QueueWait, e.Duration, errText)
	}
	_ = tw.Flush()
}
