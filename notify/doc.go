// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package notify is the change notification bus between vote workers and
realtime gateways.

Workers publish the join code of a session whose tally changed:

	notify.PublishChange(ctx, bus, "ABC234")
	// topic "session-updates", payload {"join_code":"ABC234"}

Gateways subscribe and broadcast to the matching room. Delivery is best
effort and not durable; a gateway that was not subscribed when an event was
published never sees it, and clients recover by reading results.

# Implementations

  - Local: in-process channels, for -mode all and tests
  - Postgres: LISTEN/NOTIFY through lib/pq, for split api and worker processes
*/
package notify
