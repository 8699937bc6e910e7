package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/threaddispatch/internal/dispatch"
	"github.com/mattjoyce/threaddispatch/internal/workload"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		RunID:         s.pool.RunID(),
		Pool:          s.pool.Stats(),
	})
}

// handleDispatch handles POST /jobs.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	req := DispatchRequest{Workload: workload.KindNoop, Count: 1}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	if req.Count <= 0 || req.Count > s.config.MaxJobsPerRequest {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("count must be between 1 and %d", s.config.MaxJobsPerRequest))
		return
	}
	if req.DurationMS < 0 {
		s.writeError(w, http.StatusBadRequest, "duration_ms must not be negative")
		return
	}

	fn, err := workload.New(req.Workload, time.Duration(req.DurationMS)*time.Millisecond)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := DispatchResponse{
		RunID:  s.pool.RunID(),
		JobIDs: make([]uint64, 0, req.Count),
	}
	for range req.Count {
		id, err := s.pool.Dispatch(fn)
		if errors.Is(err, dispatch.ErrClosed) {
			resp.Error = "dispatcher is shut down"
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		if err != nil {
			s.logger.Error("dispatch failed", "error", err)
			s.writeError(w, http.StatusInternalServerError, "dispatch failed")
			return
		}
		resp.JobIDs = append(resp.JobIDs, uint64(id))
	}

	respondJSON(w, http.StatusAccepted, resp)
}

// handleGetJob handles GET /jobs/{jobID}. It never consumes the entry.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseJobID(w, r)
	if !ok {
		return
	}

	state := s.pool.State(id)
	if state == dispatch.JobUnknown {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	respondJSON(w, http.StatusOK, JobStatusResponse{
		JobID:    uint64(id),
		Finished: state == dispatch.JobFinished,
		InFlight: state == dispatch.JobPending,
		State:    state.String(),
		Consumed: state == dispatch.JobReleased,
	})
}

// handleWaitJob handles POST /jobs/{jobID}/wait?timeout=.
func (s *Server) handleWaitJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseJobID(w, r)
	if !ok {
		return
	}
	timeout, ok := s.parseTimeout(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	err := s.pool.WaitIDContext(ctx, id)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, JobStatusResponse{
			JobID:    uint64(id),
			Finished: true,
			State:    dispatch.JobReleased.String(),
			Consumed: true,
		})
	case errors.Is(err, dispatch.ErrUnknownJob):
		s.writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, dispatch.ErrNotTracked):
		s.writeError(w, http.StatusGone, "job completion already consumed")
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusGatewayTimeout, "timed out waiting for job")
	default:
		// Client went away; nobody is left to answer.
		s.logger.Debug("wait abandoned", "job_id", uint64(id), "error", err)
	}
}

// handleWaitAll handles POST /wait?timeout=.
func (s *Server) handleWaitAll(w http.ResponseWriter, r *http.Request) {
	timeout, ok := s.parseTimeout(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	err := s.pool.WaitContext(ctx)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, WaitResponse{Status: "drained", Stats: s.pool.Stats()})
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusGatewayTimeout, "timed out waiting for pool")
	default:
		s.logger.Debug("wait abandoned", "error", err)
	}
}

// handleClearFinished handles DELETE /jobs/finished.
func (s *Server) handleClearFinished(w http.ResponseWriter, r *http.Request) {
	s.pool.ClearFinished()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) parseJobID(w http.ResponseWriter, r *http.Request) (dispatch.JobID, bool) {
	raw := chi.URLParam(r, "jobID")
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid job id")
		return 0, false
	}
	return dispatch.JobID(n), true
}

// parseTimeout reads ?timeout=, defaulting to and capped at MaxWaitTimeout.
func (s *Server) parseTimeout(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	raw := r.URL.Query().Get("timeout")
	if raw == "" {
		return s.config.MaxWaitTimeout, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		s.writeError(w, http.StatusBadRequest, "timeout must be a positive duration such as 5s")
		return 0, false
	}
	return min(d, s.config.MaxWaitTimeout), true
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
