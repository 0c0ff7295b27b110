// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cliparse handles command-line argument parsing and configuration.

# Configuration

ParseFlags returns a Config struct with all settings:

	cfg, err := cliparse.ParseFlags(os.Args[1:])

A .env file in the working directory is loaded first. Variables already set
in the environment are not overwritten by it.

# Config Fields

  - Port: Server listen port (default: 3318)
  - DatabaseURL: PostgreSQL connection string or SQLite file (required)
  - DatabaseType: sqlite or postgres (default: sqlite)
  - AdminKeySalt: Secret for admin and operator key HMAC (required)
  - VoterIDSalt: Secret mixed into voter identifiers (required)
  - Mode: api, worker or all (default: all)
  - Pipeline: queue and worker tuning

# CLI Flags

	-p            Server port
	-d            Database URL
	-t            Database type
	-mode         Process mode
	-admin-salt   Admin key salt
	-voter-salt   Voter identifier salt

# Environment Variables

Flags fall back to environment variables:

	PORT           → -p
	DATABASE_URL   → -d
	DATABASE_TYPE  → -t
	MODE           → -mode
	ADMIN_KEY_SALT → -admin-salt
	VOTER_ID_SALT  → -voter-salt

CLI flags take precedence over environment variables.

Pipeline tuning is environment only:

	WORKER_CONCURRENCY        (4)
	QUEUE_MAX_ATTEMPTS        (5)
	QUEUE_BACKOFF_BASE        (500ms)
	QUEUE_BACKOFF_MAX         (30s)
	QUEUE_LOCK_DURATION       (30s)
	VOTE_TX_TIMEOUT           (5s)
	QUEUE_POLL_INTERVAL       (200ms)
	QUEUE_COMPLETED_RETENTION (1h)

# Validation

ParseFlags returns an error if required values are missing or inconsistent:

  - DATABASE_URL, ADMIN_KEY_SALT and VOTER_ID_SALT must be provided
  - api and worker modes need postgres, since they run as separate processes
  - QUEUE_LOCK_DURATION must exceed VOTE_TX_TIMEOUT
*/
package cliparse
