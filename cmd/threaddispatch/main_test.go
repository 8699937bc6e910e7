package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/threaddispatch/internal/config"
	"github.com/mattjoyce/threaddispatch/internal/journal"
	"github.com/mattjoyce/threaddispatch/internal/lock"
	"github.com/mattjoyce/threaddispatch/internal/log"
	"github.com/mattjoyce/threaddispatch/internal/storage"
	"github.com/mattjoyce/threaddispatch/internal/workload"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	// Drain concurrently so large outputs cannot fill the pipe buffer.
	stdoutCh := make(chan []byte)
	stderrCh := make(chan []byte)
	go func() { b, _ := io.ReadAll(stdoutR); stdoutCh <- b }()
	go func() { b, _ := io.ReadAll(stderrR); stderrCh <- b }()

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes := <-stdoutCh
	stderrBytes := <-stderrCh

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()
	oldVersion, oldCommit, oldBuild := version, gitCommit, buildDate
	version, gitCommit, buildDate = v, commit, built
	t.Cleanup(func() {
		version, gitCommit, buildDate = oldVersion, oldCommit, oldBuild
	})
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func journalConfig(t *testing.T, dir string) string {
	t.Helper()
	return writeConfig(t, dir, `
service:
  log_level: error
pool:
  workers: 3
  demo_jobs: 40
journal:
  enabled: true
  path: `+filepath.Join(dir, "journal.db")+`
`)
}

func TestRunVersionJSON(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "0123456789abcdef", "2026-01-02T03:04:05.123Z")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"version", "--json"})
	})
	if code != 0 {
		t.Fatalf("version code = %d, stderr: %s", code, stderr)
	}

	var info versionInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("version output is not JSON: %v\n%s", err, stdout)
	}
	if info.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", info.Version)
	}
	if info.Commit != "0123456789ab" {
		t.Errorf("commit = %q, want shortened to 12 chars", info.Commit)
	}
	if info.BuildTime != "2026-01-02T03:04:05Z" {
		t.Errorf("build_time = %q, want normalized UTC", info.BuildTime)
	}
}

func TestRunVersionRejectsArgs(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"version", "extra"})
	})
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Usage: threaddispatch version") {
		t.Fatalf("stderr missing usage: %s", stderr)
	}
}

func TestRunCLIUnknownCommand(t *testing.T) {
	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"frobnicate"})
	})
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Unknown command: frobnicate") {
		t.Fatalf("stderr = %q", stderr)
	}
	if !strings.Contains(stdout, "Usage:") {
		t.Fatalf("usage not printed: %s", stdout)
	}
}

func TestPrintUsageUsesActionTerminology(t *testing.T) {
	_, stdout, _ := captureOutputWithExitCode(t, func() int {
		printUsage()
		return 0
	})
	for _, want := range []string{"config check", "config lock", "config get <path>", "journal list", "journal show <id>", "demo", "serve", "monitor"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("usage missing %q", want)
		}
	}
}

func TestRunNounActionHelp(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"config", "check", "--help"}, "Usage: threaddispatch config check"},
		{[]string{"config", "lock", "-h"}, "Usage: threaddispatch config lock"},
		{[]string{"config", "get", "--help"}, "Usage: threaddispatch config get"},
		{[]string{"config", "help"}, "Actions: check, lock, get"},
		{[]string{"journal", "list", "--help"}, "Usage: threaddispatch journal list"},
		{[]string{"journal", "show", "--help"}, "Usage: threaddispatch journal show"},
		{[]string{"journal", "--help"}, "Actions: list, show"},
		{[]string{"demo", "--help"}, "Usage: threaddispatch demo"},
		{[]string{"serve", "-h"}, "Usage: threaddispatch serve"},
		{[]string{"monitor", "--help"}, "Usage: threaddispatch monitor"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			code, stdout, stderr := captureOutputWithExitCode(t, func() int {
				return runCLI(tt.args)
			})
			if code != 0 {
				t.Fatalf("code = %d, stderr: %s", code, stderr)
			}
			if !strings.Contains(stdout, tt.want) {
				t.Fatalf("stdout missing %q: %s", tt.want, stdout)
			}
		})
	}
}

func TestRunNounUnknownAction(t *testing.T) {
	for _, noun := range []string{"config", "journal"} {
		code, _, stderr := captureOutputWithExitCode(t, func() int {
			return runCLI([]string{noun, "explode"})
		})
		if code != 1 {
			t.Fatalf("%s: code = %d, want 1", noun, code)
		}
		if !strings.Contains(stderr, "Unknown "+noun+" action: explode") {
			t.Fatalf("%s: stderr = %q", noun, stderr)
		}
	}
}

func TestRunMonitorRequiresAPIKey(t *testing.T) {
	t.Setenv("THREADDISPATCH_API_KEY", "")
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"monitor"})
	})
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "API key required") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestRunDemoScenarioReferenceRun(t *testing.T) {
	cfg := config.Defaults()
	cfg.Pool.Workers = 8
	cfg.Pool.DemoJobs = 1000

	report, err := runDemoScenario(context.Background(), cfg, func() {})
	if err != nil {
		t.Fatalf("runDemoScenario() error = %v", err)
	}

	if report.WaitedOne == nil || *report.WaitedOne != 4 {
		t.Fatalf("waited_one = %v, want 4", report.WaitedOne)
	}
	if got := report.WaitedSet; len(got) != 3 || got[0] != 1 || got[1] != 25 || got[2] != 500 {
		t.Fatalf("waited_set = %v", got)
	}
	if report.LastID != 999 {
		t.Fatalf("last_id = %d, want 999", report.LastID)
	}
	if got := report.SampleSet; len(got) != 3 || got[0] != 5 || got[1] != 50 || got[2] != 600 {
		t.Fatalf("sample_set = %v", got)
	}
	if report.Stats.Dispatched != 1000 || report.Stats.Completed != 1000 {
		t.Fatalf("stats = %+v", report.Stats)
	}
	if report.Stats.InProgress != 0 || report.Stats.Queued != 0 {
		t.Fatalf("pool not drained: %+v", report.Stats)
	}
	if m := report.Metrics; m == nil || m.Dispatched != 1000 || m.Completed != 1000 || m.InFlight != 0 {
		t.Fatalf("metrics = %+v, want 1000 dispatched and completed", report.Metrics)
	}
}

func TestRunDemoScenarioSkipsUnreachedIDs(t *testing.T) {
	cfg := config.Defaults()
	cfg.Pool.Workers = 2
	cfg.Pool.DemoJobs = 10
	cfg.Metrics.Enabled = false

	report, err := runDemoScenario(context.Background(), cfg, func() {})
	if err != nil {
		t.Fatalf("runDemoScenario() error = %v", err)
	}
	if got := report.WaitedSet; len(got) != 1 || got[0] != 1 {
		t.Fatalf("waited_set = %v, want [1]", got)
	}
	if got := report.SampleSet; len(got) != 1 || got[0] != 5 {
		t.Fatalf("sample_set = %v, want [5]", got)
	}
	if report.Metrics != nil {
		t.Fatalf("metrics disabled but report has %+v", report.Metrics)
	}
}

func TestRunDemoScenarioZeroJobs(t *testing.T) {
	cfg := config.Defaults()
	cfg.Pool.DemoJobs = 0

	report, err := runDemoScenario(context.Background(), cfg, func() {})
	if err != nil {
		t.Fatalf("runDemoScenario() error = %v", err)
	}
	if report.WaitedOne != nil {
		t.Fatalf("waited_one = %v, want nil", *report.WaitedOne)
	}
	if !report.AllDone || !report.SampleDone {
		t.Fatalf("empty pool should report finished: %+v", report)
	}
}

func TestRunDemoCountsPanics(t *testing.T) {
	cfg := config.Defaults()
	cfg.Pool.Workers = 2
	cfg.Pool.DemoJobs = 20

	fn, err := workload.New(workload.KindPanic, 0)
	if err != nil {
		t.Fatal(err)
	}
	report, err := runDemoScenario(context.Background(), cfg, fn)
	if err != nil {
		t.Fatalf("runDemoScenario() error = %v", err)
	}
	if report.Stats.Panicked != 20 || report.Stats.Completed != 20 {
		t.Fatalf("stats = %+v, want 20 panicked of 20", report.Stats)
	}
}

func TestRunDemoCLIOutput(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, dir, `
service:
  log_level: error
pool:
  workers: 2
  demo_jobs: 30
metrics:
  enabled: false
`)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"demo", "--config", configPath})
	})
	if code != 0 {
		t.Fatalf("demo code = %d, stderr: %s", code, stderr)
	}
	for _, want := range []string{"pool started", "dispatched 30 jobs", "waited for job 4", "waited for jobs [1 25]", "jobs [5] finished:", "pool stopped"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, stdout)
		}
	}
}

func TestRunDemoRejectsUnknownWorkload(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, dir, "pool:\n  workers: 1\n")

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"demo", "--config", configPath, "--workload", "teleport"})
	})
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "teleport") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestDemoThenJournalListAndShow(t *testing.T) {
	dir := t.TempDir()
	configPath := journalConfig(t, dir)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"demo", "--config", configPath, "--json"})
	})
	if code != 0 {
		t.Fatalf("demo code = %d, stderr: %s", code, stderr)
	}
	var report demoReport
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("demo output is not JSON: %v\n%s", err, stdout)
	}
	if report.JournalPath == "" {
		t.Fatal("journal_path empty with journal enabled")
	}

	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"journal", "list", "--config", configPath})
	})
	if code != 0 {
		t.Fatalf("journal list code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, report.RunID) {
		t.Fatalf("journal list missing run %s:\n%s", report.RunID, stdout)
	}

	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"journal", "show", report.RunID, "--config", configPath, "--jobs", "--json"})
	})
	if code != 0 {
		t.Fatalf("journal show code = %d, stderr: %s", code, stderr)
	}
	var out journalShowOutput
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("journal show output is not JSON: %v\n%s", err, stdout)
	}
	if out.Summary.Jobs != 40 || out.Summary.Succeeded != 40 {
		t.Fatalf("summary = %+v, want 40 succeeded", out.Summary)
	}
	if out.Summary.Run.StoppedAt == nil {
		t.Fatal("run not marked stopped")
	}
	if len(out.Jobs) != 40 || out.Jobs[0].JobID != 0 || out.Jobs[39].JobID != 39 {
		t.Fatalf("jobs not listed in id order: %d entries", len(out.Jobs))
	}
}

func TestJournalShowUnknownRun(t *testing.T) {
	dir := t.TempDir()
	configPath := journalConfig(t, dir)

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(dir, "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"journal", "show", "nope", "--config", configPath})
	})
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Run nope not found") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestJournalListWithoutDatabase(t *testing.T) {
	dir := t.TempDir()
	configPath := journalConfig(t, dir)

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"journal", "list", "--config", configPath})
	})
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "no journal at") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestRunConfigLockVerboseDryRun(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, dir, "pool:\n  workers: 4\n")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "lock", "--config", configPath, "-v", "--dry-run"})
	})
	if code != 0 {
		t.Fatalf("lock code = %d, stderr: %s", code, stderr)
	}

	hashPattern := regexp.MustCompile(`HASH config\.yaml: [a-f0-9]{64}`)
	if !hashPattern.MatchString(stdout) {
		t.Fatalf("stdout missing valid hash output: %s", stdout)
	}
	if !strings.Contains(stdout, "DRY-RUN .checksums:") {
		t.Fatalf("stdout missing dry-run line: %s", stdout)
	}
	if !strings.Contains(stdout, "Dry run completed") {
		t.Fatalf("stdout missing dry-run summary: %s", stdout)
	}
	if _, err := os.Stat(filepath.Join(dir, config.ChecksumFile)); !os.IsNotExist(err) {
		t.Fatal(".checksums should not be written in dry-run mode")
	}
}

func TestRunConfigLockThenCheck(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, dir, `
pool:
  workers: 4
journal:
  path: `+filepath.Join(dir, "journal.db")+`
`)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "lock", "--config", dir, "--verbose"})
	})
	if code != 0 {
		t.Fatalf("lock code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "WROTE .checksums:") {
		t.Fatalf("stdout missing wrote checksums line: %s", stdout)
	}
	if !strings.Contains(stdout, "Successfully locked configuration") {
		t.Fatalf("stdout missing success summary: %s", stdout)
	}

	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", configPath, "--json"})
	})
	if code != 0 {
		t.Fatalf("check code = %d, stdout: %s stderr: %s", code, stdout, stderr)
	}
	var result struct {
		Valid bool `json:"valid"`
	}
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("check output is not JSON: %v\n%s", err, stdout)
	}
	if !result.Valid {
		t.Fatalf("locked config reported invalid: %s", stdout)
	}

	// Editing after lock must fail verification.
	if err := os.WriteFile(configPath, []byte("pool:\n  workers: 64\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", configPath})
	})
	if code != 1 {
		t.Fatalf("tampered check code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "verification failed") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestRunConfigCheckStrict(t *testing.T) {
	dir := t.TempDir()
	// Unlocked config: doctor warns about integrity.
	configPath := writeConfig(t, dir, "pool:\n  workers: 2\n")

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", configPath})
	})
	if code != 0 {
		t.Fatalf("check code = %d, stderr: %s", code, stderr)
	}

	code, _, _ = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", configPath, "--strict"})
	})
	if code != 2 {
		t.Fatalf("strict check code = %d, want 2", code)
	}
}

func TestRunConfigCheckInvalid(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, dir, "pool:\n  workers: 0\n")

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", configPath})
	})
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "workers") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestRunConfigGet(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, dir, "pool:\n  workers: 6\n")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "get", "pool.workers", "--config", configPath})
	})
	if code != 0 {
		t.Fatalf("get code = %d, stderr: %s", code, stderr)
	}
	if strings.TrimSpace(stdout) != "6" {
		t.Fatalf("pool.workers = %q, want 6", stdout)
	}

	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "get", "--config", configPath, "--json", "service.name"})
	})
	if code != 0 {
		t.Fatalf("get --json code = %d, stderr: %s", code, stderr)
	}
	if strings.TrimSpace(stdout) != `"threaddispatch"` {
		t.Fatalf("service.name = %q", stdout)
	}

	code, _, _ = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "get", "pool.nope", "--config", configPath})
	})
	if code != 1 {
		t.Fatalf("missing path code = %d, want 1", code)
	}
}

func TestServeDrainsAndRecordsRun(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Pool.Workers = 2
	cfg.Journal.Enabled = true
	cfg.Journal.Path = filepath.Join(dir, "journal.db")

	db, err := storage.OpenSQLite(context.Background(), cfg.Journal.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	jr := journal.New(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- serve(ctx, cfg) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		runs, err := jr.Runs(context.Background(), 10)
		if err == nil && len(runs) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("serve never recorded its run (err=%v)", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}

	runs, err := jr.Runs(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].StoppedAt == nil {
		t.Fatalf("runs = %+v, want one stopped run", runs)
	}
}

func TestServeRefusesSecondInstance(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Journal.Path = filepath.Join(dir, "journal.db")

	held, err := lock.AcquirePIDLock(getPIDLockPath(cfg))
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	if err := serve(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "PID lock") {
		t.Fatalf("serve() error = %v, want PID lock failure", err)
	}
}

func TestGetPIDLockPath(t *testing.T) {
	cfg := config.Defaults()
	cfg.Journal.Path = "/var/lib/threaddispatch/journal.db"
	if got := getPIDLockPath(cfg); got != "/var/lib/threaddispatch/journal.pid" {
		t.Fatalf("getPIDLockPath() = %q", got)
	}
}
