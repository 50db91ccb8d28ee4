// Package poll implements the HTTP polling transport: a REST alternative for
// clients that cannot hold a WebSocket. Messages live in Redis as a capped
// per-room list, presence in the TTL registry, so multiple pollserver
// instances can share one backend.
package poll

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	MessagePrefix     = "poll:messages:"
	DefaultMessageCap = 200
)

// PolledMessage is a chat message as stored and served by the polling API.
// Unlike the WebSocket envelope it carries an ID, so clients can deduplicate
// across overlapping polls.
type PolledMessage struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Room      string `json:"room"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// MessageStore keeps each room's recent messages in a Redis list, trimmed to
// a fixed capacity on every append.
type MessageStore struct {
	rdb *redis.Client
	cap int64
}

// NewMessageStore creates a store over the given Redis client. A capacity
// of zero or less falls back to DefaultMessageCap.
func NewMessageStore(rdb *redis.Client, capacity int64) *MessageStore {
	if capacity <= 0 {
		capacity = DefaultMessageCap
	}
	return &MessageStore{rdb: rdb, cap: capacity}
}

// Append stores a message at the tail of the room's list and trims the list
// so only the newest cap messages survive. Both operations run in one
// pipeline round trip.
func (s *MessageStore) Append(ctx context.Context, msg PolledMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("poll: failed to marshal message: %w", err)
	}

	key := MessagePrefix + msg.Room
	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -s.cap, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("poll: failed to append message: %w", err)
	}
	return nil
}

// Since returns the room's messages newer than the given RFC3339 timestamp,
// oldest first. An empty since returns everything retained. Entries that
// fail to decode are skipped rather than failing the whole poll.
func (s *MessageStore) Since(ctx context.Context, room, since string) ([]PolledMessage, error) {
	raw, err := s.rdb.LRange(ctx, MessagePrefix+room, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("poll: failed to read messages: %w", err)
	}

	msgs := make([]PolledMessage, 0, len(raw))
	for _, item := range raw {
		var m PolledMessage
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			continue
		}
		// RFC3339 UTC timestamps compare correctly as strings.
		if since != "" && m.Timestamp <= since {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
