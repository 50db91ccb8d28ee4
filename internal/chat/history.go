package chat

import "sync"

// DefaultHistoryCapacity is the number of recent messages retained per room
// when no explicit capacity is configured.
const DefaultHistoryCapacity = 100

// History stores the last N messages per room in memory. It is
// goroutine-safe and uses a fixed-size ring buffer per room, so appending
// beyond capacity evicts the oldest entry instead of allocating. Rooms are
// created implicitly on first append and never removed; an empty room simply
// has an empty buffer.
type History struct {
	mu       sync.RWMutex
	capacity int
	buffers  map[string]*ringBuffer // room -> ring buffer
}

// ringBuffer is a fixed-size circular buffer of Message.
type ringBuffer struct {
	items []Message
	pos   int
	count int
}

// NewHistory creates an empty History retaining up to capacity messages per
// room. A non-positive capacity falls back to DefaultHistoryCapacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{
		capacity: capacity,
		buffers:  make(map[string]*ringBuffer),
	}
}

// Capacity returns the per-room retention limit.
func (h *History) Capacity() int {
	return h.capacity
}

// Append adds a message to the room's buffer. If the buffer is full, the
// oldest message is overwritten.
func (h *History) Append(room string, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rb, ok := h.buffers[room]
	if !ok {
		rb = &ringBuffer{
			items: make([]Message, h.capacity),
		}
		h.buffers[room] = rb
	}

	rb.items[rb.pos] = msg
	rb.pos = (rb.pos + 1) % h.capacity
	if rb.count < h.capacity {
		rb.count++
	}
}

// Snapshot returns the room's retained messages in chronological order,
// oldest first. Returns an empty slice for a room with no history. The
// returned slice is a copy; callers may keep it without holding any lock.
func (h *History) Snapshot(room string) []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rb, ok := h.buffers[room]
	if !ok {
		return []Message{}
	}

	result := make([]Message, rb.count)
	// The oldest message is at position (pos - count) mod capacity.
	start := (rb.pos - rb.count + h.capacity) % h.capacity
	for i := 0; i < rb.count; i++ {
		result[i] = rb.items[(start+i)%h.capacity]
	}
	return result
}

// Len returns the number of messages currently retained for a room.
func (h *History) Len(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rb, ok := h.buffers[room]
	if !ok {
		return 0
	}
	return rb.count
}
