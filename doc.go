// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the entry point for the livepoll server.

livepoll runs live audience polls: an owner creates a session of questions,
participants vote by join code, and every viewer of the session is told over
a websocket when the tallies change.

# Starting the Server

The server reads a .env file, environment variables or CLI flags:

	DATABASE_URL=postgres://... ADMIN_KEY_SALT=... VOTER_ID_SALT=... go run .

Or with flags:

	go run . -p 3318 -t sqlite -d "file:livepoll.db"

# Configuration

Required settings:

  - DATABASE_URL (-d): connection string
  - ADMIN_KEY_SALT (-admin-salt): secret for admin and operator key HMACs
  - VOTER_ID_SALT (-voter-salt): secret for hashing voter addresses

Optional settings:

  - PORT (-p): server port (default: 3318)
  - DATABASE_TYPE (-t): sqlite or postgres (default: sqlite)
  - DATABASE_TYPE also accepts postgresql, pq and sqlite3
  - MODE (-mode): api, worker or all (default: all)
  - TRUSTED_PROXY_HOPS (-trusted-proxies): reverse proxies whose
    X-Forwarded-For entries identify voters (default: 0, use the peer)
  - WORKER_CONCURRENCY, QUEUE_MAX_ATTEMPTS, QUEUE_BACKOFF_BASE,
    QUEUE_BACKOFF_MAX, QUEUE_LOCK_DURATION, VOTE_TX_TIMEOUT,
    QUEUE_POLL_INTERVAL, QUEUE_COMPLETED_RETENTION: pipeline tuning

# Vote Path

	POST /public/vote → queue.Enqueue → worker.Pool → ballot.ApplyVote
	                  → notify.Bus → realtime.Gateway → results_updated

Mode all runs everything in one process with an in-memory bus. Modes api
and worker split intake and processing across processes sharing one
Postgres database, with change notifications over LISTEN/NOTIFY.

# Architecture

  - handlers: HTTP request handlers (sessions, votes, results, jobs)
  - router: Route definitions using Go 1.22+ routing
  - middleware: CORS, logging, JSON helpers
  - ballot: sessions, the vote ledger and tallies
  - queue: durable vote jobs with retry and dead-letter
  - worker: the pool that drains the queue
  - notify: change notification bus
  - realtime: websocket gateway
  - models: Request/response types
  - auth: Key, join code and voter hash generation
  - db: Connection and schema creation
  - cliparse: Configuration parsing

See package documentation for each component.
*/
package main
