// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielhkuo/livepoll/auth"
	"github.com/danielhkuo/livepoll/ballot"
	"github.com/danielhkuo/livepoll/middleware"
	"github.com/danielhkuo/livepoll/models"
	"github.com/danielhkuo/livepoll/queue"
)

// AcceptedMessage is returned for every vote that passes intake checks,
// whether or not it is later counted.
const AcceptedMessage = "Vote accepted for processing."

// VoterIdentifier derives the stable per-voter key used for deduplication.
type VoterIdentifier interface {
	Identify(r *http.Request) (string, error)
}

// ClientIPIdentifier hashes the client address with a salt. TrustedProxies
// is the number of reverse proxies whose X-Forwarded-For entries are
// believed; zero means the TCP peer address is used.
type ClientIPIdentifier struct {
	Salt           string
	TrustedProxies int
}

func (c ClientIPIdentifier) Identify(r *http.Request) (string, error) {
	ip := middleware.ClientIP(r, c.TrustedProxies)
	if ip == "" {
		return "", errors.New("no client address")
	}
	return auth.HashIP(ip, c.Salt), nil
}

// VoteEnqueuer is the part of the vote queue used by intake.
type VoteEnqueuer interface {
	Enqueue(ctx context.Context, job models.VoteJob) (queue.Enqueued, error)
}

type VoteHandler struct {
	store *ballot.Store
	queue VoteEnqueuer
	voter VoterIdentifier
}

func NewVoteHandler(store *ballot.Store, q VoteEnqueuer, voter VoterIdentifier) *VoteHandler {
	return &VoteHandler{store: store, queue: q, voter: voter}
}

// SubmitVote handles POST /public/vote
func (h *VoteHandler) SubmitVote(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitVoteRequest
	if err := middleware.ParseJSONBody(w, r, &req); err != nil {
		middleware.BodyErrorResponse(w, err)
		return
	}

	req.QuestionID = strings.TrimSpace(req.QuestionID)
	req.OptionID = strings.TrimSpace(req.OptionID)
	if req.QuestionID == "" || req.OptionID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "question_id and option_id are required")
		return
	}

	err := h.store.ValidateVote(r.Context(), req.QuestionID, req.OptionID)
	switch {
	case errors.Is(err, ballot.ErrInvalidVote):
		middleware.ErrorResponse(w, http.StatusBadRequest, "Option does not belong to question")
		return
	case errors.Is(err, ballot.ErrSessionNotActive):
		middleware.ErrorResponse(w, http.StatusConflict, "Session is not accepting votes")
		return
	case err != nil:
		slog.Error("failed to validate vote", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	identifier, err := h.voter.Identify(r)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Unable to identify voter")
		return
	}

	enq, err := h.queue.Enqueue(r.Context(), models.VoteJob{
		QuestionID: req.QuestionID,
		OptionID:   req.OptionID,
		Identifier: identifier,
	})
	if err != nil {
		slog.Error("failed to enqueue vote", "error", err, "question_id", req.QuestionID)
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Vote could not be queued")
		return
	}

	slog.Debug("vote accepted", "question_id", req.QuestionID, "job_id", enq.ID, "duplicate", enq.Duplicate)

	middleware.JSONResponse(w, http.StatusAccepted, models.SubmitVoteResponse{
		Message: AcceptedMessage,
	})
}
