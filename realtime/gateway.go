// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danielhkuo/livepoll/auth"
	"github.com/danielhkuo/livepoll/notify"
	"golang.org/x/net/websocket"
)

// Frame types.
const (
	FrameJoinSession    = "join_session"
	FrameLeaveSession   = "leave_session"
	FrameJoined         = "joined"
	FrameResultsUpdated = "results_updated"
	FrameError          = "error"
)

const (
	sendBuffer             = 16
	writeTimeout           = 10 * time.Second
	maxDecodeErrorsPerConn = 5
)

// Frame is the JSON shape of every message in both directions.
type Frame struct {
	Type     string `json:"type"`
	JoinCode string `json:"join_code,omitempty"`
	Message  string `json:"message,omitempty"`
}

type client struct {
	send chan Frame
	room string
}

// Gateway holds live websocket clients grouped into rooms by join code.
// Room membership is only read or changed under mu.
type Gateway struct {
	mu     sync.Mutex
	rooms  map[string]map[*client]struct{}
	logger *slog.Logger
}

func NewGateway(logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		rooms:  make(map[string]map[*client]struct{}),
		logger: logger,
	}
}

// Handler upgrades GET requests to websocket connections.
func (g *Gateway) Handler() http.Handler {
	ws := websocket.Handler(g.serve)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ws.ServeHTTP(w, r)
	})
}

// Run broadcasts every change notification on the bus until ctx is
// cancelled or the subscription ends.
func (g *Gateway) Run(ctx context.Context, bus notify.Bus) error {
	updates, err := bus.Subscribe(ctx, notify.TopicSessionUpdates)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-updates:
			if !ok {
				return nil
			}
			change, err := notify.DecodeChange(payload)
			if err != nil {
				g.logger.Warn("ignoring malformed change notification",
					"event", "realtime_notification_invalid",
					"module", "realtime",
					"error", err.Error(),
				)
				continue
			}
			g.Broadcast(change.JoinCode)
		}
	}
}

// Broadcast sends a payload-free results_updated frame to every client in
// the room for joinCode and returns how many were reached. Clients whose
// send buffer is full miss the signal.
func (g *Gateway) Broadcast(joinCode string) int {
	code := strings.ToUpper(strings.TrimSpace(joinCode))

	g.mu.Lock()
	defer g.mu.Unlock()

	sent := 0
	for c := range g.rooms[code] {
		select {
		case c.send <- Frame{Type: FrameResultsUpdated}:
			sent++
		default:
			g.logger.Warn("dropping results update for slow client",
				"event", "realtime_broadcast_drop",
				"module", "realtime",
				"join_code", code,
			)
		}
	}
	return sent
}

// RoomSize returns the number of clients currently in a room.
func (g *Gateway) RoomSize(joinCode string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms[strings.ToUpper(strings.TrimSpace(joinCode))])
}

// join moves c into the room for code, leaving any previous room.
func (g *Gateway) join(c *client, code string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.removeLocked(c)
	room, ok := g.rooms[code]
	if !ok {
		room = make(map[*client]struct{})
		g.rooms[code] = room
	}
	room[c] = struct{}{}
	c.room = code
}

func (g *Gateway) leave(c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeLocked(c)
}

func (g *Gateway) removeLocked(c *client) {
	if c.room == "" {
		return
	}
	room := g.rooms[c.room]
	delete(room, c)
	if len(room) == 0 {
		delete(g.rooms, c.room)
	}
	c.room = ""
}

func (c *client) enqueue(f Frame) {
	select {
	case c.send <- f:
	default:
	}
}

func (g *Gateway) serve(conn *websocket.Conn) {
	defer conn.Close()

	c := &client{send: make(chan Frame, sendBuffer)}
	done := make(chan struct{})
	defer close(done)
	defer g.leave(c)

	go func() {
		for {
			select {
			case <-done:
				return
			case f := <-c.send:
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := websocket.JSON.Send(conn, f); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	decodeErrors := 0
	for {
		var f Frame
		if err := websocket.JSON.Receive(conn, &f); err != nil {
			if errors.Is(err, io.EOF) || !isDecodeError(err) {
				return
			}
			decodeErrors++
			c.enqueue(Frame{Type: FrameError, Message: "invalid frame payload"})
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		switch f.Type {
		case FrameJoinSession:
			code, err := auth.NormalizeJoinCode(f.JoinCode)
			if err != nil {
				c.enqueue(Frame{Type: FrameError, Message: "invalid join code"})
				continue
			}
			g.join(c, code)
			c.enqueue(Frame{Type: FrameJoined, JoinCode: code})
		case FrameLeaveSession:
			g.leave(c)
		default:
			c.enqueue(Frame{Type: FrameError, Message: "unknown frame type"})
		}
	}
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
