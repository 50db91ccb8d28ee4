// Package presence tracks which usernames are active in each room. Two
// strategies implement one query contract: a push registry maintained
// synchronously by the live transport, and a TTL registry maintained by
// heartbeats from the polling transport. Which strategy is active is a
// deployment choice made once at startup; the two are never mixed within a
// room's lifetime.
package presence

import "context"

// Registry is the query contract shared by both strategies.
type Registry interface {
	// UsersInRoom returns the distinct usernames currently present in the
	// room, sorted for deterministic output.
	UsersInRoom(ctx context.Context, room string) ([]string, error)
}
