// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package notify

import (
	"context"
	"log/slog"
	"sync"
)

const defaultBuffer = 128

// Local is an in-process Bus. It only reaches subscribers in the same
// process, so it serves the combined api+worker mode and tests.
type Local struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan []byte]struct{}
	buffer      int
	logger      *slog.Logger
}

func NewLocal(buffer int, logger *slog.Logger) *Local {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		subscribers: make(map[string]map[chan []byte]struct{}),
		buffer:      buffer,
		logger:      logger,
	}
}

// Publish never blocks: a subscriber whose buffer is full misses the event.
func (l *Local) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	for ch := range l.subscribers[topic] {
		msg := append([]byte(nil), payload...)
		select {
		case ch <- msg:
		default:
			l.logger.Warn("dropping notification for slow subscriber",
				"event", "notify_publish_drop",
				"module", "notify",
				"topic", topic,
			)
		}
	}
	return nil
}

func (l *Local) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	ch := make(chan []byte, l.buffer)

	l.mu.Lock()
	if l.subscribers[topic] == nil {
		l.subscribers[topic] = make(map[chan []byte]struct{})
	}
	l.subscribers[topic][ch] = struct{}{}
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.subscribers[topic], ch)
		if len(l.subscribers[topic]) == 0 {
			delete(l.subscribers, topic)
		}
		close(ch)
		l.mu.Unlock()
	}()
	return ch, nil
}

// Subscribers returns the number of live subscriptions on topic.
func (l *Local) Subscribers(topic string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subscribers[topic])
}
