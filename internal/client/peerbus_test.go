package client

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/neonchat/neonchat/internal/protocol"
)

func nextEvent(t *testing.T, tr Transport) Event {
	t.Helper()
	select {
	case ev := <-tr.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func decodeType(t *testing.T, data []byte) string {
	t.Helper()
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env.Type
}

func TestPeerBusJoinAnnounced(t *testing.T) {
	bus := NewPeerBus()

	alice := bus.Join("lobby", "alice")
	if ev := nextEvent(t, alice); ev.Kind != EventOpened {
		t.Fatalf("expected opened, got %v", ev.Kind)
	}

	_ = bus.Join("lobby", "bob")

	ev := nextEvent(t, alice)
	if ev.Kind != EventMessage || decodeType(t, ev.Data) != protocol.TypeJoin {
		t.Fatalf("expected join broadcast, got %+v", ev)
	}
}

func TestPeerBusMessageReachesAllIncludingSender(t *testing.T) {
	bus := NewPeerBus()
	alice := bus.Join("lobby", "alice")
	bob := bus.Join("lobby", "bob")

	// Drain opened and join events.
	nextEvent(t, alice)
	nextEvent(t, alice)
	nextEvent(t, bob)

	err := alice.Send(protocol.ChatMsg{
		Type: protocol.TypeMessage, Username: "alice", Text: "hello",
		Timestamp: "2026-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	for _, peer := range []*Peer{alice, bob} {
		ev := nextEvent(t, peer)
		if decodeType(t, ev.Data) != protocol.TypeMessage {
			t.Fatalf("peer %s: expected message, got %s", peer.Username(), decodeType(t, ev.Data))
		}
	}
}

func TestPeerBusRoomKeyIsolation(t *testing.T) {
	bus := NewPeerBus()
	alice := bus.Join("alpha", "alice")
	bob := bus.Join("beta", "bob")

	nextEvent(t, alice)
	nextEvent(t, bob)

	err := alice.Send(protocol.ChatMsg{Type: protocol.TypeMessage, Username: "alice", Text: "alpha only"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// Alice sees her own message back; bob must see nothing.
	nextEvent(t, alice)
	select {
	case ev := <-bob.Events():
		t.Fatalf("cross-room leak: bob received %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPeerBusLeaveOnClose(t *testing.T) {
	bus := NewPeerBus()
	alice := bus.Join("lobby", "alice")
	bob := bus.Join("lobby", "bob")

	nextEvent(t, alice) // opened
	nextEvent(t, alice) // bob's join
	nextEvent(t, bob)   // opened

	if err := bob.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ev := nextEvent(t, alice)
	if decodeType(t, ev.Data) != protocol.TypeLeave {
		t.Fatalf("expected leave broadcast, got %s", decodeType(t, ev.Data))
	}

	if ev := nextEvent(t, bob); ev.Kind != EventClosed {
		t.Fatalf("expected closed event for bob, got %v", ev.Kind)
	}

	if err := bob.Send(protocol.ChatMsg{Type: protocol.TypeMessage, Text: "too late"}); err == nil {
		t.Error("send after close should fail")
	}
}

func TestPeerBusCloseIdempotent(t *testing.T) {
	bus := NewPeerBus()
	alice := bus.Join("lobby", "alice")
	nextEvent(t, alice)

	if err := alice.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := alice.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestPeerHistoriesAreLocal(t *testing.T) {
	bus := NewPeerBus()
	alice := bus.Join("lobby", "alice")
	nextEvent(t, alice)

	err := alice.Send(protocol.ChatMsg{
		Type: protocol.TypeMessage, Username: "alice", Text: "before bob",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	bob := bus.Join("lobby", "bob")
	nextEvent(t, bob)

	if got := len(alice.History()); got != 1 {
		t.Errorf("alice should have 1 message in her history, got %d", got)
	}
	// There is no server to replay from, so bob starts empty.
	if got := len(bob.History()); got != 0 {
		t.Errorf("bob should start with empty history, got %d", got)
	}

	err = bob.Send(protocol.ChatMsg{
		Type: protocol.TypeMessage, Username: "bob", Text: "after join",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if got := len(alice.History()); got != 2 {
		t.Errorf("alice should have 2 messages, got %d", got)
	}
	if got := len(bob.History()); got != 1 {
		t.Errorf("bob should have 1 message, got %d", got)
	}
}

func TestSlowPeerDoesNotBlockPublisher(t *testing.T) {
	bus := NewPeerBus()
	alice := bus.Join("lobby", "alice")
	bob := bus.Join("lobby", "bob")
	nextEvent(t, alice)
	nextEvent(t, alice)

	// bob never drains its events; publish well past the buffer size.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = alice.Send(protocol.ChatMsg{
				Type: protocol.TypeMessage, Username: "alice",
				Text: fmt.Sprintf("msg-%d", i), Timestamp: "2026-01-01T00:00:00Z",
			})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow consumer")
	}

	// Drops skip the channel, not the local history.
	if got := len(bob.History()); got != 100 {
		t.Errorf("bob's history should hold all 100 messages, got %d", got)
	}
}

func TestPeerTypingNotRecorded(t *testing.T) {
	bus := NewPeerBus()
	alice := bus.Join("lobby", "alice")
	bob := bus.Join("lobby", "bob")
	nextEvent(t, alice)
	nextEvent(t, alice)
	nextEvent(t, bob)

	err := alice.Send(protocol.TypingMsg{Type: protocol.TypeTyping, Username: "alice", Active: true})
	if err != nil {
		t.Fatalf("send typing: %v", err)
	}

	ev := nextEvent(t, bob)
	if decodeType(t, ev.Data) != protocol.TypeTyping {
		t.Fatalf("expected typing relay, got %s", decodeType(t, ev.Data))
	}

	if got := len(bob.History()); got != 0 {
		t.Errorf("typing must not enter history, got %d entries", got)
	}
}
