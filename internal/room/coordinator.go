// Package room implements the server-side room coordinator: it binds
// connections to rooms, replays bounded history to joiners, tracks push
// presence, and fans messages out to room members. Mutating operations are
// serialized per room, so messages within a room are appended to history and
// broadcast in the order they were accepted; operations on different rooms
// proceed independently.
package room

import (
	"context"
	"log"
	"sync"

	"github.com/neonchat/neonchat/internal/chat"
	"github.com/neonchat/neonchat/internal/metrics"
	"github.com/neonchat/neonchat/internal/presence"
	"github.com/neonchat/neonchat/internal/protocol"
)

// Sender is the delivery contract the coordinator requires from a transport
// connection. The ws layer's Connection satisfies it.
type Sender interface {
	ID() string
	Send(data []byte) error
}

// MessageObserver is invoked after a chat message has been accepted and
// broadcast. The assistant collaborator hooks in here; the coordinator never
// blocks on it, so observers must not perform long synchronous work.
type MessageObserver func(room string, msg chat.Message)

// binding records which (username, room) pair a connection is bound to. A
// connection belongs to exactly one room at any instant.
type binding struct {
	conn     Sender
	username string
	room     string
}

// roomState holds the mutable per-room data. Its mutex serializes all
// mutating operations on the room.
type roomState struct {
	mu      sync.Mutex
	members map[string]Sender // connID -> conn
}

// Coordinator orchestrates join/leave/message/typing across rooms.
type Coordinator struct {
	mu       sync.Mutex
	rooms    map[string]*roomState
	bindings map[string]*binding // connID -> binding

	history  *chat.History
	presence *presence.PushRegistry
	observer MessageObserver
}

// NewCoordinator creates a Coordinator with the given history buffer and
// push presence registry.
func NewCoordinator(history *chat.History, reg *presence.PushRegistry) *Coordinator {
	return &Coordinator{
		rooms:    make(map[string]*roomState),
		bindings: make(map[string]*binding),
		history:  history,
		presence: reg,
	}
}

// SetObserver registers the message observer. Must be called before the
// coordinator starts serving connections.
func (c *Coordinator) SetObserver(fn MessageObserver) {
	c.observer = fn
}

// Join binds a connection to a room. The joiner receives the room's history
// (oldest first) and current member list; the other members receive a join
// event. Joining the room the connection is already bound to is a no-op;
// joining a different room performs an implicit leave of the old room first.
// The username must already be validated and the room name normalized.
func (c *Coordinator) Join(conn Sender, username, room string) {
	c.mu.Lock()
	var prev *binding
	var prevState *roomState
	if b, ok := c.bindings[conn.ID()]; ok {
		if b.room == room {
			c.mu.Unlock()
			return
		}
		prev = b
		prevState = c.unbindLocked(b)
	}

	st, ok := c.rooms[room]
	if !ok {
		st = &roomState{members: make(map[string]Sender)}
		c.rooms[room] = st
		metrics.RoomsTotal.Set(float64(len(c.rooms)))
	}
	c.bindings[conn.ID()] = &binding{conn: conn, username: username, room: room}
	c.mu.Unlock()

	if prev != nil {
		c.broadcastLeave(prevState, prev)
	}

	// The room lock spans the history snapshot, member registration, and the
	// join broadcast so that a concurrently routed message is either in the
	// snapshot or delivered via broadcast, never both and never neither. The
	// member list is sent before registration: the joiner sees who was
	// already there, not themselves.
	st.mu.Lock()
	c.sendHistory(conn, room)
	c.sendUsers(conn, room)

	st.members[conn.ID()] = conn
	c.presence.Add(room, conn.ID(), username)

	if data, err := protocol.NewServerMessage(protocol.TypeJoin, protocol.JoinMsg{Username: username, Room: room}); err == nil {
		fanOut(st.members, data, conn.ID())
	}
	st.mu.Unlock()

	log.Printf("room: %s joined #%s (conn=%s)", username, room, conn.ID())
}

// Leave unbinds a connection from its room, removes its presence entry, and
// notifies the remaining members. It is a no-op for unbound connections.
// Disconnect cleanup routes through here, so a transport failure never
// affects any other connection.
func (c *Coordinator) Leave(connID string) {
	c.mu.Lock()
	b, ok := c.bindings[connID]
	if !ok {
		c.mu.Unlock()
		return
	}
	st := c.unbindLocked(b)
	c.mu.Unlock()

	c.broadcastLeave(st, b)
}

// unbindLocked removes the binding and returns the state of the room it
// pointed at, or nil if the room is unknown. Caller holds c.mu; the leave
// broadcast happens separately, under the room lock only, so one room's
// sends never stall operations on other rooms.
func (c *Coordinator) unbindLocked(b *binding) *roomState {
	delete(c.bindings, b.conn.ID())
	return c.rooms[b.room]
}

// broadcastLeave removes the member from the room and notifies the remaining
// members. Must not be called with c.mu held.
func (c *Coordinator) broadcastLeave(st *roomState, b *binding) {
	if st == nil {
		return
	}

	st.mu.Lock()
	delete(st.members, b.conn.ID())
	c.presence.Remove(b.room, b.conn.ID())

	if data, err := protocol.NewServerMessage(protocol.TypeLeave, protocol.LeaveMsg{Username: b.username}); err == nil {
		fanOut(st.members, data, "")
	}
	st.mu.Unlock()

	log.Printf("room: %s left #%s (conn=%s)", b.username, b.room, b.conn.ID())
}

// Message validates, records, and broadcasts a chat message from a bound
// connection. The message is appended to the room's history (evicting the
// oldest entry at capacity) and delivered to every member, sender included.
// A ValidationError is returned before any state mutation if the connection
// is unbound or the text is empty or over length after trimming.
func (c *Coordinator) Message(connID, text string) (chat.Message, error) {
	c.mu.Lock()
	b, ok := c.bindings[connID]
	c.mu.Unlock()
	if !ok {
		return chat.Message{}, &ValidationError{Reason: "not in a room"}
	}

	clean, err := chat.ValidateText(text)
	if err != nil {
		return chat.Message{}, &ValidationError{Reason: err.Error()}
	}

	msg := chat.Message{
		Kind:      chat.KindChat,
		Username:  b.username,
		Text:      chat.Sanitize(clean),
		Timestamp: chat.Now(),
	}
	c.deliver(b.room, msg)

	if c.observer != nil {
		c.observer(b.room, msg)
	}
	return msg, nil
}

// Inject records and broadcasts a server-authored message (system notice or
// assistant reply) in a room. It follows the same append-then-broadcast path
// as user messages, so ordering within the room is preserved.
func (c *Coordinator) Inject(room string, msg chat.Message) {
	if msg.Timestamp == "" {
		msg.Timestamp = chat.Now()
	}
	c.deliver(room, msg)
}

// deliver appends msg to the room's history and fans it out to all members
// under the room lock.
func (c *Coordinator) deliver(room string, msg chat.Message) {
	st := c.roomFor(room)

	data, err := protocol.NewServerMessage(protocol.TypeMessage, protocol.ChatMsg{
		Username:  msg.Username,
		Text:      msg.Text,
		Room:      room,
		Timestamp: msg.Timestamp,
		IsAI:      msg.IsAI,
	})
	if err != nil {
		log.Printf("room: failed to build message for #%s: %v", room, err)
		return
	}

	st.mu.Lock()
	c.history.Append(room, msg)
	metrics.MessagesTotal.WithLabelValues("accepted").Inc()
	fanOut(st.members, data, "")
	st.mu.Unlock()
}

// Typing broadcasts a typing event from a bound connection to the other
// members of its room. It is a silent no-op for unbound connections; typing
// state is never persisted and never replayed to joiners.
func (c *Coordinator) Typing(connID string, active bool) {
	c.mu.Lock()
	b, ok := c.bindings[connID]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.broadcastTyping(b.room, b.username, active, connID)
}

// InjectTyping broadcasts a typing event on behalf of a server-side author
// (the assistant while it composes a reply).
func (c *Coordinator) InjectTyping(room, username string, active bool) {
	c.broadcastTyping(room, username, active, "")
}

func (c *Coordinator) broadcastTyping(room, username string, active bool, exclude string) {
	data, err := protocol.NewServerMessage(protocol.TypeTyping, protocol.TypingMsg{Username: username, Active: active})
	if err != nil {
		return
	}

	st := c.roomFor(room)
	st.mu.Lock()
	fanOut(st.members, data, exclude)
	st.mu.Unlock()
}

// Room returns the room a connection is bound to, or "" if unbound.
func (c *Coordinator) Room(connID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.bindings[connID]; ok {
		return b.room
	}
	return ""
}

// Username returns the username a connection is bound as, or "" if unbound.
func (c *Coordinator) Username(connID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.bindings[connID]; ok {
		return b.username
	}
	return ""
}

// Users returns the current member usernames of a room.
func (c *Coordinator) Users(room string) []string {
	users, _ := c.presence.UsersInRoom(context.Background(), room)
	return users
}

// History returns the retained messages of a room, oldest first.
func (c *Coordinator) History(room string) []chat.Message {
	return c.history.Snapshot(room)
}

// roomFor returns the state for room, creating it if needed. Rooms are never
// destroyed; an empty room persists with an empty member set.
func (c *Coordinator) roomFor(room string) *roomState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.rooms[room]
	if !ok {
		st = &roomState{members: make(map[string]Sender)}
		c.rooms[room] = st
		metrics.RoomsTotal.Set(float64(len(c.rooms)))
	}
	return st
}

// sendHistory sends the room's history snapshot to a single connection.
func (c *Coordinator) sendHistory(conn Sender, room string) {
	msgs := c.history.Snapshot(room)
	entries := make([]protocol.HistoryEntry, len(msgs))
	for i, m := range msgs {
		entries[i] = protocol.HistoryEntry{
			Username:  m.Username,
			Text:      m.Text,
			Timestamp: m.Timestamp,
			IsAI:      m.IsAI,
		}
	}

	data, err := protocol.NewServerMessage(protocol.TypeHistory, protocol.HistoryMsg{Messages: entries})
	if err != nil {
		return
	}
	if err := conn.Send(data); err != nil {
		log.Printf("room: history send failed conn=%s: %v", conn.ID(), err)
	}
}

// sendUsers sends the room's current member list to a single connection.
func (c *Coordinator) sendUsers(conn Sender, room string) {
	users, _ := c.presence.UsersInRoom(context.Background(), room)
	data, err := protocol.NewServerMessage(protocol.TypeUsers, protocol.UsersMsg{Users: users})
	if err != nil {
		return
	}
	if err := conn.Send(data); err != nil {
		log.Printf("room: users send failed conn=%s: %v", conn.ID(), err)
	}
}
