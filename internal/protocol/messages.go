// Package protocol defines the message envelope shared by every NeonChat
// transport: the WebSocket server, the HTTP polling API, and the client-side
// fallback peer bus. All messages are serialized as JSON and carry a "type"
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoin      = "join"
	TypeMessage   = "message"
	TypeTyping    = "typing"
	TypeSetAPIKey = "set_api_key"
)

// Server -> Client message types. TypeJoin, TypeMessage and TypeTyping are
// also broadcast server-side, with the sender's username filled in.
const (
	TypeLeave    = "leave"
	TypeUsers    = "users"
	TypeHistory  = "history"
	TypeError    = "error"
	TypeAIStatus = "ai_status"
)

// ---------------------------------------------------------------------------
// Envelope, used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Message structs
// ---------------------------------------------------------------------------

// JoinMsg binds a connection to a (username, room) pair. The server also
// broadcasts it to the other members of the room when someone joins; in that
// direction only Username is meaningful.
type JoinMsg struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Room     string `json:"room"`
}

// ChatMsg is a chat text message. Clients send Text (and optionally Room,
// which the server ignores in favor of the connection's bound room); the
// server fills in Username and Timestamp before broadcasting. IsAI marks
// messages authored by the assistant collaborator.
type ChatMsg struct {
	Type      string `json:"type"`
	Username  string `json:"username,omitempty"`
	Text      string `json:"text"`
	Room      string `json:"room,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	IsAI      bool   `json:"is_ai,omitempty"`
}

// TypingMsg signals that a user started or stopped typing. Never persisted,
// never replayed to new joiners.
type TypingMsg struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
	Active   bool   `json:"active"`
}

// SetAPIKeyMsg configures the assistant collaborator for the sender's room.
type SetAPIKeyMsg struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

// LeaveMsg is broadcast by the server when a member leaves a room.
type LeaveMsg struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// UsersMsg carries the current member list of a room to a joining client.
type UsersMsg struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

// HistoryEntry is a single replayed message within a HistoryMsg.
type HistoryEntry struct {
	Username  string `json:"username"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	IsAI      bool   `json:"is_ai,omitempty"`
}

// HistoryMsg carries a room's recent message history, oldest first, to a
// joining client.
type HistoryMsg struct {
	Type     string         `json:"type"`
	Messages []HistoryEntry `json:"messages"`
}

// ErrorMsg is sent by the server to communicate a rejected operation.
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AIStatusMsg informs a client whether the assistant is available in its room.
type AIStatusMsg struct {
	Type    string `json:"type"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw transport bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types; callers treat that as a protocol error and drop
// the message without closing the connection.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoin:
		var m JoinMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSetAPIKey:
		var m SetAPIKeyMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key, overriding
// whatever the struct's Type field held.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
