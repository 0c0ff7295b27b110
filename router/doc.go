// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package router defines HTTP routes for the livepoll API.

# Route Registration

NewRouter creates a configured http.ServeMux with all endpoints:

	mux := router.NewRouter(store, q, gw, cfg)

# Endpoints

Health:

	GET /health

Session management (admin, requires X-Admin-Key):

	POST /sessions             - Create session
	GET  /sessions/{id}/admin  - Session with counts
	POST /sessions/{id}/start  - Open for voting
	POST /sessions/{id}/stop   - Stop voting

Public (uses join code):

	GET  /public/sessions/{joinCode} - Active session and options
	POST /public/vote                - Submit a vote (202)
	GET  /public/results/{joinCode}  - Current tallies

Operator (requires the operator key in X-Admin-Key):

	GET  /admin/jobs/dead        - Dead-lettered vote jobs
	POST /admin/jobs/{id}/retry  - Requeue a dead job
	GET  /admin/jobs/stats       - Job counts by state

Realtime:

	GET /ws - Websocket results_updated signals
*/
package router
