// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielhkuo/livepoll/auth"
	"github.com/danielhkuo/livepoll/ballot"
	"github.com/danielhkuo/livepoll/cliparse"
	"github.com/danielhkuo/livepoll/middleware"
	"github.com/danielhkuo/livepoll/models"
)

type SessionHandler struct {
	store *ballot.Store
	cfg   cliparse.Config
}

func NewSessionHandler(store *ballot.Store, cfg cliparse.Config) *SessionHandler {
	return &SessionHandler{store: store, cfg: cfg}
}

// CreateSession handles POST /sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if err := middleware.ParseJSONBody(w, r, &req); err != nil {
		middleware.BodyErrorResponse(w, err)
		return
	}

	session, err := h.store.CreateSession(r.Context(), req)
	if errors.Is(err, ballot.ErrInvalidSession) {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		slog.Error("failed to create session", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	slog.Info("session created", "session_id", session.ID, "join_code", session.JoinCode, "owner", req.OwnerName)

	middleware.JSONResponse(w, http.StatusCreated, models.CreateSessionResponse{
		SessionID: session.ID,
		JoinCode:  session.JoinCode,
		AdminKey:  auth.GenerateAdminKey(session.ID, h.cfg.AdminKeySalt),
		Session:   session,
	})
}

// StartSession handles POST /sessions/{id}/start
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, models.StatusActive, h.store.StartSession)
}

// StopSession handles POST /sessions/{id}/stop
func (h *SessionHandler) StopSession(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, models.StatusStopped, h.store.StopSession)
}

func (h *SessionHandler) transition(w http.ResponseWriter, r *http.Request, status string, apply func(ctx context.Context, id string) error) {
	sessionID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	err := apply(r.Context(), sessionID)
	switch {
	case errors.Is(err, ballot.ErrNotFound):
		middleware.ErrorResponse(w, http.StatusNotFound, "Session not found")
		return
	case errors.Is(err, ballot.ErrInvalidTransition):
		middleware.ErrorResponse(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		slog.Error("failed to update session status", "error", err, "session_id", sessionID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to update session")
		return
	}

	slog.Info("session status changed", "session_id", sessionID, "status", status)

	middleware.JSONResponse(w, http.StatusOK, models.SessionStatusResponse{
		SessionID: sessionID,
		Status:    status,
	})
}

// GetSessionAdmin handles GET /sessions/{id}/admin
func (h *SessionHandler) GetSessionAdmin(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	session, err := h.store.GetSession(r.Context(), sessionID)
	if errors.Is(err, ballot.ErrNotFound) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		slog.Error("failed to load session", "error", err, "session_id", sessionID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, session)
}

// authorize checks the X-Admin-Key header against the session in the path.
func (h *SessionHandler) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "session id is required")
		return "", false
	}

	adminKey := r.Header.Get("X-Admin-Key")
	if err := auth.ValidateAdminKey(sessionID, adminKey, h.cfg.AdminKeySalt); err != nil {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid admin key")
		return "", false
	}
	return sessionID, true
}
