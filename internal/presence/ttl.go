package presence

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// PresencePrefix is the Redis key prefix for per-room presence hashes.
	PresencePrefix = "presence:"

	// DefaultTTL is how long a heartbeat keeps a user visible.
	DefaultTTL = 30 * time.Second
)

// TTLRegistry is the heartbeat-maintained presence strategy used by the HTTP
// polling transport. Each heartbeat records a last-seen timestamp per
// (room, username); UsersInRoom excludes entries older than the TTL at query
// time. Stale entries are never deleted eagerly; staleness is always
// evaluated against the clock when queried.
type TTLRegistry struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time // injectable for tests
}

// NewTTLRegistry creates a TTLRegistry backed by the given Redis client. A
// non-positive ttl falls back to DefaultTTL.
func NewTTLRegistry(client *redis.Client, ttl time.Duration) *TTLRegistry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TTLRegistry{
		client: client,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Heartbeat records that username is alive in room as of now. The room hash
// gets its own expiry at twice the TTL so abandoned rooms eventually vanish
// from Redis without any query-path deletion.
func (t *TTLRegistry) Heartbeat(ctx context.Context, room, username string) error {
	key := PresencePrefix + room

	pipe := t.client.Pipeline()
	pipe.HSet(ctx, key, username, t.now().Unix())
	pipe.Expire(ctx, key, 2*t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: heartbeat %s/%s: %w", room, username, err)
	}
	return nil
}

// UsersInRoom implements Registry. Entries whose last-seen timestamp is older
// than the TTL are excluded but left in place.
func (t *TTLRegistry) UsersInRoom(ctx context.Context, room string) ([]string, error) {
	key := PresencePrefix + room

	entries, err := t.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: users in room %s: %w", room, err)
	}

	cutoff := t.now().Add(-t.ttl).Unix()
	users := make([]string, 0, len(entries))
	for username, raw := range entries {
		lastSeen, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		if lastSeen >= cutoff {
			users = append(users, username)
		}
	}
	sort.Strings(users)
	return users, nil
}
