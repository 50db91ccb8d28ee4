package assistant

import "sync"

// DefaultMemoryCap bounds each room's conversation at 20 exchanges.
const DefaultMemoryCap = 40

// Turn is one entry in a room's conversation memory.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Memory keeps a bounded per-room conversation transcript so the invoker
// can answer with context. When a room's transcript exceeds the cap, the
// oldest turns are discarded.
type Memory struct {
	mu    sync.Mutex
	cap   int
	rooms map[string][]Turn
}

// NewMemory creates a Memory holding at most capacity turns per room. A
// capacity of zero or less falls back to DefaultMemoryCap.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCap
	}
	return &Memory{
		cap:   capacity,
		rooms: make(map[string][]Turn),
	}
}

// Append adds a turn to the room's transcript, trimming from the front
// when over capacity.
func (m *Memory) Append(room, role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	turns := append(m.rooms[room], Turn{Role: role, Content: content})
	if len(turns) > m.cap {
		turns = turns[len(turns)-m.cap:]
	}
	m.rooms[room] = turns
}

// DropLast removes the room's most recent turn. Used to unwind a user
// prompt that never got an answer.
func (m *Memory) DropLast(room string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	turns := m.rooms[room]
	if len(turns) > 0 {
		m.rooms[room] = turns[:len(turns)-1]
	}
}

// Transcript returns a copy of the room's conversation, oldest first.
func (m *Memory) Transcript(room string) []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Turn, len(m.rooms[room]))
	copy(out, m.rooms[room])
	return out
}
