package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/threaddispatch/internal/api"
	"github.com/mattjoyce/threaddispatch/internal/auth"
	"github.com/mattjoyce/threaddispatch/internal/config"
	"github.com/mattjoyce/threaddispatch/internal/dispatch"
	"github.com/mattjoyce/threaddispatch/internal/events"
	"github.com/mattjoyce/threaddispatch/internal/journal"
	"github.com/mattjoyce/threaddispatch/internal/lock"
	"github.com/mattjoyce/threaddispatch/internal/log"
	"github.com/mattjoyce/threaddispatch/internal/metrics"
	"github.com/mattjoyce/threaddispatch/internal/storage"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.SetupWriter(os.Stdout, cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("threaddispatch starting", "version", version, "config", cfg.SourcePath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg); err != nil {
		logger.Error("serve failed", "error", err)
		return 1
	}
	logger.Info("threaddispatch stopped")
	return 0
}

// serve hosts one pool until ctx ends, then drains it within
// pool.drain_timeout and shuts it down.
func serve(ctx context.Context, cfg *config.Config) error {
	logger := log.WithComponent("main")

	pidLockPath := getPIDLockPath(cfg)
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		return fmt.Errorf("failed to acquire PID lock (another instance may be running): %w", err)
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	hub := events.NewHub(256)
	eventObserver := events.NewObserver(hub)
	opts := []dispatch.Option{
		dispatch.WithLogger(log.WithComponent("dispatch")),
		dispatch.WithObserver(eventObserver),
	}

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		m, err := metrics.New(cfg.Metrics.Namespace)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		metricsHandler = m.Handler()
		opts = append(opts, dispatch.WithObserver(m))
	}

	var jr *journal.Journal
	if cfg.Journal.Enabled {
		db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("open journal %s: %w", cfg.Journal.Path, err)
		}
		defer db.Close()
		logger.Info("journal opened", "path", cfg.Journal.Path)
		jr = journal.New(db)
		opts = append(opts, dispatch.WithObserver(jr))
	}

	d, err := dispatch.New(cfg.Pool.Workers, opts...)
	if err != nil {
		return err
	}
	defer d.Shutdown()
	eventObserver.SetRunID(d.RunID())

	if jr != nil {
		if err := jr.BeginRun(ctx, d.RunID(), cfg.Pool.Workers); err != nil {
			return fmt.Errorf("journal: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.API.Enabled {
		apiServer := api.New(apiConfigFrom(cfg), d, hub, metricsHandler, log.WithComponent("api"))
		g.Go(func() error {
			if err := apiServer.Start(gctx); err != nil {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("threaddispatch running (press Ctrl+C to stop)", "run_id", d.RunID(), "workers", cfg.Pool.Workers)
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	groupErr := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Pool.DrainTimeout)
	defer cancel()
	if err := d.WaitContext(drainCtx); err != nil {
		stats := d.Stats()
		logger.Warn("pool still busy after drain timeout; shutdown waits for the rest",
			"queued", stats.Queued, "in_progress", stats.InProgress, "error", err)
	}
	d.Shutdown()

	if jr != nil {
		if err := jr.EndRun(context.Background()); err != nil {
			logger.Error("failed to close journal run", "error", err)
		}
	}

	if groupErr != nil && !errors.Is(groupErr, context.Canceled) {
		return groupErr
	}
	return nil
}

func apiConfigFrom(cfg *config.Config) api.Config {
	tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{
			Token:  t.Token,
			Scopes: t.Scopes,
		})
	}
	return api.Config{
		Listen: cfg.API.Listen,
		APIKey: cfg.API.Auth.APIKey,
		Tokens: tokens,
	}
}

// getPIDLockPath places the lock beside the journal database, even when the
// journal itself is disabled.
func getPIDLockPath(cfg *config.Config) string {
	dbPath := cfg.Journal.Path
	dbDir := filepath.Dir(dbPath)
	dbBase := filepath.Base(dbPath)
	ext := filepath.Ext(dbBase)
	nameWithoutExt := dbBase[:len(dbBase)-len(ext)]
	return filepath.Join(dbDir, nameWithoutExt+".pid")
}
