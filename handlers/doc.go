// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package handlers contains HTTP request handlers for the livepoll API.

# Handler Types

Each handler is a struct built over the Ballot Store or the vote queue:

  - SessionHandler: session lifecycle (create, start, stop, admin view)
  - VoteHandler: vote intake
  - ResultsHandler: public session view and results
  - JobsHandler: dead-letter inspection and retry for operators

	sessionHandler := handlers.NewSessionHandler(store, cfg)

# Session Lifecycle

Sessions progress through three states: draft → active → stopped

	POST /sessions              → CreateSession (returns admin_key and join_code)
	POST /sessions/{id}/start   → StartSession
	POST /sessions/{id}/stop    → StopSession
	GET  /sessions/{id}/admin   → GetSessionAdmin (includes counts)

Admin operations require the X-Admin-Key header. Invalid transitions
return 409.

# Voting Flow

	GET  /public/sessions/{joinCode} → GetActiveSession (no counts)
	POST /public/vote                → SubmitVote
	GET  /public/results/{joinCode}  → GetResults

SubmitVote checks that the option belongs to the question and that the
session is active, then enqueues the vote and answers 202. Repeated votes
get the same 202; the worker pool decides whether a vote is counted. The
voter is identified through a VoterIdentifier; ClientIPIdentifier hashes
the client address with VOTER_ID_SALT, reading X-Forwarded-For only as far
as TRUSTED_PROXY_HOPS allows. Bodies over middleware.MaxBodyBytes get 413.

# Operator Routes

	GET  /admin/jobs/dead        → ListDeadJobs
	POST /admin/jobs/{id}/retry  → RetryDeadJob
	GET  /admin/jobs/stats       → GetStats

These take the operator key, generated with auth.GenerateOperatorKey, in
X-Admin-Key.
*/
package handlers
