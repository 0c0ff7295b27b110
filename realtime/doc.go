// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package realtime is the websocket gateway that tells viewers when a
session's results changed.

# Protocol

Clients speak JSON frames over GET /ws:

	→ {"type":"join_session","join_code":"abc234"}
	← {"type":"joined","join_code":"ABC234"}
	← {"type":"results_updated"}
	→ {"type":"leave_session"}

results_updated carries no payload. Clients re-read
GET /public/results/{joinCode} when they see it. A client is in at most one
room; joining another room leaves the first.

# Wiring

	gw := realtime.NewGateway(logger)
	mux.Handle("GET /ws", gw.Handler())
	go gw.Run(ctx, bus)
*/
package realtime
