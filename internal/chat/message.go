// Package chat holds the room-chat domain model: messages, the bounded
// per-room history buffer, and input validation shared by every transport.
package chat

import "time"

// Message kinds. System messages are server-authored announcements; chat
// messages are user- or assistant-authored.
const (
	KindChat   = "chat"
	KindSystem = "system"
)

// Message is a single immutable chat message. Once appended to a room's
// history it is never modified.
type Message struct {
	Kind      string `json:"kind"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	IsAI      bool   `json:"is_ai,omitempty"`
}

// Now returns the current UTC time formatted the way all NeonChat transports
// expect timestamps: RFC 3339.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
