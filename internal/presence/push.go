package presence

import (
	"context"
	"sort"
	"sync"
)

// PushRegistry is the exact, synchronously maintained presence strategy used
// by the live WebSocket transport: an explicit Add on join and an explicit
// Remove on leave or disconnect. All state is in-memory; the registry is
// goroutine-safe.
type PushRegistry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]string // room -> connID -> username
}

// NewPushRegistry creates an empty PushRegistry.
func NewPushRegistry() *PushRegistry {
	return &PushRegistry{
		rooms: make(map[string]map[string]string),
	}
}

// Add registers a connection's username in a room.
func (p *PushRegistry) Add(room, connID, username string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	members, ok := p.rooms[room]
	if !ok {
		members = make(map[string]string)
		p.rooms[room] = members
	}
	members[connID] = username
}

// Remove unregisters a connection from a room. Removing an unknown
// connection is a no-op.
func (p *PushRegistry) Remove(room, connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if members, ok := p.rooms[room]; ok {
		delete(members, connID)
	}
}

// UsersInRoom implements Registry. Duplicate usernames across connections
// collapse to one entry; usernames are not guaranteed unique.
func (p *PushRegistry) UsersInRoom(_ context.Context, room string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	members := p.rooms[room]
	seen := make(map[string]struct{}, len(members))
	users := make([]string, 0, len(members))
	for _, username := range members {
		if _, dup := seen[username]; dup {
			continue
		}
		seen[username] = struct{}{}
		users = append(users, username)
	}
	sort.Strings(users)
	return users, nil
}
