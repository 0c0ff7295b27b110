// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielhkuo/livepoll/ballot"
	"github.com/danielhkuo/livepoll/cliparse"
	"github.com/danielhkuo/livepoll/notify"
	"github.com/danielhkuo/livepoll/queue"
	"github.com/danielhkuo/livepoll/testutil"
	"github.com/danielhkuo/livepoll/worker"
)

// pipeline wires a store, queue, local bus and worker pool over one test
// database.
type pipeline struct {
	db    *sql.DB
	cfg   cliparse.Config
	store *ballot.Store
	queue *queue.Queue
	bus   *notify.Local
	pool  *worker.Pool
}

func newPipeline(t *testing.T, maxAttempts int) *pipeline {
	t.Helper()

	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	if maxAttempts > 0 {
		cfg.Pipeline.MaxAttempts = maxAttempts
	}

	q, err := queue.New(conn, testutil.Dialect(), queue.Options{
		MaxAttempts:  cfg.Pipeline.MaxAttempts,
		BackoffBase:  cfg.Pipeline.BackoffBase,
		BackoffMax:   cfg.Pipeline.BackoffMax,
		LockDuration: cfg.Pipeline.LockDuration,
	})
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}

	store := ballot.NewStore(conn)
	bus := notify.NewLocal(16, nil)
	proc := worker.NewProcessor(store, bus, cfg.Pipeline.TxTimeout, nil)

	return &pipeline{
		db:    conn,
		cfg:   cfg,
		store: store,
		queue: q,
		bus:   bus,
		pool:  worker.NewPool(q, proc, cfg.Pipeline, nil),
	}
}

func (p *pipeline) voteHandler() *VoteHandler {
	return NewVoteHandler(p.store, p.queue, ClientIPIdentifier{Salt: p.cfg.VoterIDSalt})
}

// drain processes jobs until the queue has nothing claimable.
func (p *pipeline) drain(t *testing.T) int {
	t.Helper()
	n := 0
	for {
		ok, err := p.pool.ProcessOne(context.Background())
		if err != nil {
			t.Fatalf("ProcessOne() error = %v", err)
		}
		if !ok {
			return n
		}
		n++
	}
}

func vote(h *VoteHandler, questionID, optionID, remoteAddr string) *httptest.ResponseRecorder {
	req := testutil.MakeRequest("POST", "/public/vote", map[string]string{
		"question_id": questionID,
		"option_id":   optionID,
	}, nil)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	w := httptest.NewRecorder()
	h.SubmitVote(w, req)
	return w
}

func adminRequest(method, path, id, key string) *http.Request {
	req := testutil.MakeRequest(method, path, nil, map[string]string{"X-Admin-Key": key})
	if id != "" {
		req.SetPathValue("id", id)
	}
	return req
}
