// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/danielhkuo/livepoll/auth"
	"github.com/danielhkuo/livepoll/cliparse"
	"github.com/danielhkuo/livepoll/middleware"
	"github.com/danielhkuo/livepoll/queue"
)

// JobsHandler is the operator surface for the vote queue.
type JobsHandler struct {
	queue *queue.Queue
	cfg   cliparse.Config
}

func NewJobsHandler(q *queue.Queue, cfg cliparse.Config) *JobsHandler {
	return &JobsHandler{queue: q, cfg: cfg}
}

// ListDeadJobs handles GET /admin/jobs/dead?limit=N
func (h *JobsHandler) ListDeadJobs(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			middleware.ErrorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	jobs, err := h.queue.ListDead(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list dead jobs", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, jobs)
}

// RetryDeadJob handles POST /admin/jobs/{id}/retry
func (h *JobsHandler) RetryDeadJob(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	jobID := r.PathValue("id")
	if jobID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "job id is required")
		return
	}

	err := h.queue.RetryDead(r.Context(), jobID)
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		middleware.ErrorResponse(w, http.StatusNotFound, "Dead job not found")
		return
	case errors.Is(err, queue.ErrPendingExists):
		middleware.ErrorResponse(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		slog.Error("failed to retry dead job", "error", err, "job_id", jobID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	job, err := h.queue.Get(r.Context(), jobID)
	if err != nil {
		slog.Error("failed to load retried job", "error", err, "job_id", jobID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, job)
}

// GetStats handles GET /admin/jobs/stats
func (h *JobsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		slog.Error("failed to read queue stats", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, stats)
}

func (h *JobsHandler) authorize(w http.ResponseWriter, r *http.Request) bool {
	if err := auth.ValidateOperatorKey(r.Header.Get("X-Admin-Key"), h.cfg.AdminKeySalt); err != nil {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid operator key")
		return false
	}
	return true
}
