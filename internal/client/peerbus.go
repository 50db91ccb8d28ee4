package client

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/neonchat/neonchat/internal/chat"
	"github.com/neonchat/neonchat/internal/protocol"
)

// KeyPrefix namespaces bus channels so only NeonChat peers on the same room
// ever share traffic.
const KeyPrefix = "neonchat_"

// PeerBus is the fallback transport: an in-process pub/sub connecting every
// fallback peer on the same room key. There is no server behind it, so
// there is no shared history and no liveness detection; a peer that goes
// away without Close is never announced as gone.
type PeerBus struct {
	mu    sync.Mutex
	rooms map[string]map[*Peer]struct{}
}

// NewPeerBus creates an empty bus.
func NewPeerBus() *PeerBus {
	return &PeerBus{
		rooms: make(map[string]map[*Peer]struct{}),
	}
}

// Join attaches a new peer to the room's channel. Peers already on the
// channel receive a join broadcast; the new peer receives EventOpened. The
// new peer starts with an empty history, since there is no server to
// replay from.
func (b *PeerBus) Join(room, username string) *Peer {
	p := &Peer{
		bus:      b,
		key:      KeyPrefix + room,
		room:     room,
		username: username,
		events:   make(chan Event, 32),
		history:  chat.NewHistory(chat.DefaultHistoryCapacity),
	}

	joinData, _ := protocol.NewServerMessage(protocol.TypeJoin, protocol.JoinMsg{
		Username: username,
		Room:     room,
	})

	b.mu.Lock()
	peers, ok := b.rooms[p.key]
	if !ok {
		peers = make(map[*Peer]struct{})
		b.rooms[p.key] = peers
	}
	for other := range peers {
		other.deliver(joinData)
	}
	peers[p] = struct{}{}
	b.mu.Unlock()

	p.events <- Event{Kind: EventOpened}
	return p
}

// publish delivers data to every peer on the key except the sender.
func (b *PeerBus) publish(key string, data []byte, exclude *Peer) {
	b.mu.Lock()
	targets := make([]*Peer, 0, len(b.rooms[key]))
	for p := range b.rooms[key] {
		if p != exclude {
			targets = append(targets, p)
		}
	}
	b.mu.Unlock()

	for _, p := range targets {
		p.deliver(data)
	}
}

// remove detaches a peer and announces its departure to the remaining
// peers on the key.
func (b *PeerBus) remove(p *Peer) {
	b.mu.Lock()
	peers := b.rooms[p.key]
	delete(peers, p)
	if len(peers) == 0 {
		delete(b.rooms, p.key)
	}
	b.mu.Unlock()

	leaveData, _ := protocol.NewServerMessage(protocol.TypeLeave, protocol.LeaveMsg{
		Username: p.username,
	})
	b.publish(p.key, leaveData, p)
}

// Peer is one fallback participant. It satisfies Transport, so a Session
// can swap it in for a live connection without the application noticing at
// the API level.
type Peer struct {
	bus      *PeerBus
	key      string
	room     string
	username string
	events   chan Event
	history  *chat.History

	mu     sync.Mutex
	closed bool
}

// Send publishes an envelope to the other peers on the room key. Chat
// messages are also delivered back to the sender, so the local display path
// is the same as for everyone else.
func (p *Peer) Send(v interface{}) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("client: peer closed")
	}
	p.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("client: marshal: %w", err)
	}

	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("client: invalid envelope: %w", err)
	}

	if env.Type == protocol.TypeMessage {
		p.deliver(data)
	}
	p.bus.publish(p.key, data, p)
	return nil
}

// Events returns the peer's event stream. The stream is buffered; when the
// consumer falls behind and the buffer fills, deliveries are dropped rather
// than blocking the publishing peer. The local history still records
// dropped chat messages.
func (p *Peer) Events() <-chan Event {
	return p.events
}

// Close detaches the peer, broadcasts leave to the remaining peers, and
// ends the event stream. Safe to call multiple times.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.bus.remove(p)

	p.events <- Event{Kind: EventClosed}
	close(p.events)
	return nil
}

// History returns the chat messages this peer has seen, oldest first. Each
// peer's view is local; peers that joined later saw fewer messages.
func (p *Peer) History() []chat.Message {
	return p.history.Snapshot(p.room)
}

// Username returns the name this peer joined under.
func (p *Peer) Username() string {
	return p.username
}

// deliver pushes an envelope onto the peer's event stream, recording chat
// messages in the peer's local history. Delivery to a closed or saturated
// peer is dropped; the bus is best-effort like the server's broadcast path.
func (p *Peer) deliver(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}

	// The lock spans the closed check and the send so Close can never
	// close the channel between them.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	if env.Type == protocol.TypeMessage {
		var msg protocol.ChatMsg
		if err := json.Unmarshal(env.Raw, &msg); err == nil {
			p.history.Append(p.room, chat.Message{
				Kind:      chat.KindChat,
				Username:  msg.Username,
				Text:      msg.Text,
				Timestamp: msg.Timestamp,
				IsAI:      msg.IsAI,
			})
		}
	}

	select {
	case p.events <- Event{Kind: EventMessage, Data: data}:
	default:
		// Slow consumer; drop rather than stall the bus.
	}
}
