package client

import (
	"sort"
	"sync"
	"time"
)

// DefaultTypingTTL is how long a typing indicator stays visible without a
// fresh active=true event.
const DefaultTypingTTL = 2 * time.Second

// TypingSet tracks which members of a room are currently typing. Each
// active=true event arms a per-user expiry; a repeat event resets it, an
// active=false event clears the user immediately. Expiry is evaluated
// against the clock when queried, so a lost active=false event can never
// leave a user typing forever. Nothing here is persisted or replayed.
type TypingSet struct {
	mu       sync.Mutex
	ttl      time.Duration
	deadline map[string]time.Time

	now func() time.Time // swapped out by tests
}

// NewTypingSet creates an empty TypingSet. A non-positive ttl falls back to
// DefaultTypingTTL.
func NewTypingSet(ttl time.Duration) *TypingSet {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingSet{
		ttl:      ttl,
		deadline: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Set applies one typing event. An active=true arms or rearms the user's
// expiry; an active=false removes the user.
func (t *TypingSet) Set(username string, active bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if active {
		t.deadline[username] = t.now().Add(t.ttl)
	} else {
		delete(t.deadline, username)
	}
}

// Active returns the sorted usernames whose typing indicator has not
// expired. Expired entries are dropped as a side effect.
func (t *TypingSet) Active() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	out := make([]string, 0, len(t.deadline))
	for u, d := range t.deadline {
		if now.After(d) {
			delete(t.deadline, u)
			continue
		}
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Clear empties the set, used when leaving a room.
func (t *TypingSet) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deadline = make(map[string]time.Time)
}
