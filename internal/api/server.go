package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/threaddispatch/internal/auth"
	"github.com/mattjoyce/threaddispatch/internal/dispatch"
	"github.com/mattjoyce/threaddispatch/internal/events"
)

// Pool is the part of *dispatch.Dispatcher the API drives.
type Pool interface {
	Dispatch(fn func()) (dispatch.JobID, error)
	State(id dispatch.JobID) dispatch.JobState
	WaitIDContext(ctx context.Context, id dispatch.JobID) error
	WaitContext(ctx context.Context) error
	ClearFinished()
	Stats() dispatch.Stats
	RunID() string
}

// Config carries the listener address, credentials and request limits.
type Config struct {
	Listen string
	APIKey string // full access
	Tokens []auth.TokenConfig
	// MaxWaitTimeout caps ?timeout= on the wait endpoints and is used when it
	// is absent.
	MaxWaitTimeout time.Duration
	// MaxJobsPerRequest caps "count" on POST /jobs.
	MaxJobsPerRequest int
}

const shutdownGrace = 5 * time.Second

// Server exposes a Pool over HTTP.
type Server struct {
	config    Config
	pool      Pool
	events    *events.Hub
	metrics   http.Handler
	logger    *slog.Logger
	keys      *auth.Keyring
	startedAt time.Time
}

// New builds a Server. A nil metrics handler leaves /metrics unrouted; a nil
// hub gets a private one.
func New(config Config, pool Pool, hub *events.Hub, metrics http.Handler, logger *slog.Logger) *Server {
	if config.MaxWaitTimeout <= 0 {
		config.MaxWaitTimeout = time.Minute
	}
	if config.MaxJobsPerRequest <= 0 {
		config.MaxJobsPerRequest = 10000
	}
	if hub == nil {
		hub = events.NewHub(256)
	}
	return &Server{
		config:    config,
		pool:      pool,
		events:    hub,
		metrics:   metrics,
		logger:    logger,
		keys:      auth.NewKeyring(config.APIKey, config.Tokens),
		startedAt: time.Now(),
	}
}

// Start listens on Config.Listen and serves until ctx is cancelled, then shuts
// down gracefully. A bind failure is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Listen, err)
	}

	// No WriteTimeout: /events streams stay open and the wait endpoints
	// bound themselves with MaxWaitTimeout.
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Info("API listening", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("API shutting down")
		graceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return srv.Shutdown(graceCtx)
	})
	return g.Wait()
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.accessLog, middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/jobs", func(r chi.Router) {
			r.With(s.requireScopes(auth.ScopeJobsRW)).Post("/", s.handleDispatch)
			r.With(s.requireScopes(auth.ScopeJobsRW)).Delete("/finished", s.handleClearFinished)
			r.With(s.requireScopes(auth.ScopeJobsRead)).Get("/{jobID}", s.handleGetJob)
			r.With(s.requireScopes(auth.ScopeJobsRW)).Post("/{jobID}/wait", s.handleWaitJob)
		})
		r.With(s.requireScopes(auth.ScopeJobsRW)).Post("/wait", s.handleWaitAll)
		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
	})
	return r
}

// accessLog records one line per request; server errors log at warn.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		rw := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(rw, r)

		level := slog.LevelInfo
		if rw.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.Status(),
			"bytes", rw.BytesWritten(),
			"duration_ms", time.Since(began).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
