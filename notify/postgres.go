// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package notify

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

const (
	minReconnect = 10 * time.Millisecond
	maxReconnect = 10 * time.Second
	pingInterval = 90 * time.Second
)

// Postgres is a Bus over LISTEN/NOTIFY. It crosses process boundaries, so
// api and worker processes sharing a database can talk through it.
type Postgres struct {
	db     *sql.DB
	dsn    string
	buffer int
	logger *slog.Logger
}

// NewPostgres publishes through conn and opens one listener connection to
// dsn per subscription.
func NewPostgres(conn *sql.DB, dsn string, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: conn, dsn: dsn, buffer: defaultBuffer, logger: logger}
}

func (p *Postgres) Publish(ctx context.Context, topic string, payload []byte) error {
	if _, err := p.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, topic, string(payload)); err != nil {
		return fmt.Errorf("pg_notify %s: %w", topic, err)
	}
	return nil
}

func (p *Postgres) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	listener := pq.NewListener(p.dsn, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected, pq.ListenerEventConnectionAttemptFailed:
			p.logger.Warn("notification listener disconnected",
				"event", "notify_listener_disconnected",
				"module", "notify",
				"topic", topic,
				"error", err,
			)
		case pq.ListenerEventReconnected:
			p.logger.Info("notification listener reconnected",
				"event", "notify_listener_reconnected",
				"module", "notify",
				"topic", topic,
			)
		}
	})
	if err := listener.Listen(topic); err != nil {
		listener.Close()
		return nil, fmt.Errorf("listen %s: %w", topic, err)
	}

	out := make(chan []byte, p.buffer)
	go func() {
		defer close(out)
		defer listener.Close()

		ping := time.NewTicker(pingInterval)
		defer ping.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				// nil after a reconnect; anything sent meanwhile is gone.
				if n == nil {
					continue
				}
				select {
				case out <- []byte(n.Extra):
				default:
					p.logger.Warn("dropping notification for slow subscriber",
						"event", "notify_publish_drop",
						"module", "notify",
						"topic", topic,
					)
				}
			case <-ping.C:
				go listener.Ping()
			}
		}
	}()
	return out, nil
}
