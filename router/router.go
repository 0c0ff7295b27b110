// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"net/http"

	"github.com/danielhkuo/livepoll/ballot"
	"github.com/danielhkuo/livepoll/cliparse"
	"github.com/danielhkuo/livepoll/handlers"
	"github.com/danielhkuo/livepoll/middleware"
	"github.com/danielhkuo/livepoll/queue"
	"github.com/danielhkuo/livepoll/realtime"
)

func NewRouter(store *ballot.Store, q *queue.Queue, gw *realtime.Gateway, cfg cliparse.Config) *http.ServeMux {
	mux := http.NewServeMux()

	// Initialize handlers
	sessionHandler := handlers.NewSessionHandler(store, cfg)
	voteHandler := handlers.NewVoteHandler(store, q, handlers.ClientIPIdentifier{Salt: cfg.VoterIDSalt, TrustedProxies: cfg.TrustedProxies})
	resultsHandler := handlers.NewResultsHandler(store)
	jobsHandler := handlers.NewJobsHandler(q, cfg)

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Session management (admin operations)
	mux.HandleFunc("POST /sessions", middleware.WithLogging(sessionHandler.CreateSession))
	mux.HandleFunc("GET /sessions/{id}/admin", middleware.WithLogging(sessionHandler.GetSessionAdmin))
	mux.HandleFunc("POST /sessions/{id}/start", middleware.WithLogging(sessionHandler.StartSession))
	mux.HandleFunc("POST /sessions/{id}/stop", middleware.WithLogging(sessionHandler.StopSession))

	// Voting and results (public)
	mux.HandleFunc("GET /public/sessions/{joinCode}", middleware.WithLogging(resultsHandler.GetActiveSession))
	mux.HandleFunc("POST /public/vote", middleware.WithLogging(voteHandler.SubmitVote))
	mux.HandleFunc("GET /public/results/{joinCode}", middleware.WithLogging(resultsHandler.GetResults))

	// Queue operator routes
	mux.HandleFunc("GET /admin/jobs/dead", middleware.WithLogging(jobsHandler.ListDeadJobs))
	mux.HandleFunc("POST /admin/jobs/{id}/retry", middleware.WithLogging(jobsHandler.RetryDeadJob))
	mux.HandleFunc("GET /admin/jobs/stats", middleware.WithLogging(jobsHandler.GetStats))

	// Realtime updates
	mux.Handle("GET /ws", gw.Handler())

	// Root endpoint
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("livepoll API v1"))
	})

	return mux
}
