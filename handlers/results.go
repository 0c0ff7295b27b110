// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielhkuo/livepoll/ballot"
	"github.com/danielhkuo/livepoll/middleware"
	"github.com/danielhkuo/livepoll/models"
)

type ResultsHandler struct {
	store *ballot.Store
}

func NewResultsHandler(store *ballot.Store) *ResultsHandler {
	return &ResultsHandler{store: store}
}

// GetActiveSession handles GET /public/sessions/{joinCode}
// Only active sessions are visible; options are returned without counts.
func (h *ResultsHandler) GetActiveSession(w http.ResponseWriter, r *http.Request) {
	joinCode := r.PathValue("joinCode")
	if joinCode == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "join code is required")
		return
	}

	session, err := h.store.GetSessionByJoinCode(r.Context(), joinCode)
	if errors.Is(err, ballot.ErrNotFound) || (err == nil && session.Status != models.StatusActive) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Session not found or not active")
		return
	}
	if err != nil {
		slog.Error("failed to load session", "error", err, "join_code", joinCode)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, session)
}

// GetResults handles GET /public/results/{joinCode}
// Tallies are read from current store state, so this is also the resync
// path for realtime clients.
func (h *ResultsHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	joinCode := r.PathValue("joinCode")
	if joinCode == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "join code is required")
		return
	}

	results, err := h.store.Results(r.Context(), joinCode)
	if errors.Is(err, ballot.ErrNotFound) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		slog.Error("failed to compute results", "error", err, "join_code", joinCode)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, results)
}
