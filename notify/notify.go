// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danielhkuo/livepoll/models"
)

// TopicSessionUpdates carries "tally for session X changed" events.
const TopicSessionUpdates = "session-updates"

var ErrEmptyJoinCode = errors.New("change notification has no join code")

// Bus is a fire-and-forget publish/subscribe channel.
//
// Publish delivers to subscribers that are connected at the time of the call
// and to no one else. Subscribe returns a stream that is closed when ctx is
// cancelled.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
}

// EncodeChange builds the wire payload for a tally change.
func EncodeChange(joinCode string) ([]byte, error) {
	if joinCode == "" {
		return nil, ErrEmptyJoinCode
	}
	return json.Marshal(models.ChangeNotification{JoinCode: joinCode})
}

// DecodeChange parses a payload produced by EncodeChange.
func DecodeChange(payload []byte) (models.ChangeNotification, error) {
	var n models.ChangeNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return models.ChangeNotification{}, fmt.Errorf("decode change notification: %w", err)
	}
	if n.JoinCode == "" {
		return models.ChangeNotification{}, ErrEmptyJoinCode
	}
	return n, nil
}

// PublishChange encodes and publishes a tally change on TopicSessionUpdates.
func PublishChange(ctx context.Context, bus Bus, joinCode string) error {
	payload, err := EncodeChange(joinCode)
	if err != nil {
		return err
	}
	return bus.Publish(ctx, TopicSessionUpdates, payload)
}
