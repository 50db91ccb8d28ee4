package client

import (
	"context"
	"errors"
	"testing"
	"time"
)

// stubTransport is a scriptable Transport for session tests.
type stubTransport struct {
	events chan Event
	sent   []interface{}
	closed bool
}

func newStubTransport() *stubTransport {
	return &stubTransport{events: make(chan Event, 8)}
}

func (s *stubTransport) Send(v interface{}) error {
	s.sent = append(s.sent, v)
	return nil
}

func (s *stubTransport) Events() <-chan Event { return s.events }

func (s *stubTransport) Close() error {
	if !s.closed {
		s.closed = true
		s.events <- Event{Kind: EventClosed}
		close(s.events)
	}
	return nil
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if s.State() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for state %s, still %s", want, s.State())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSessionGoesLiveOnHandshake(t *testing.T) {
	stub := newStubTransport()
	dialer := func(ctx context.Context, url string) (Transport, error) {
		stub.events <- Event{Kind: EventOpened}
		return stub, nil
	}

	s := NewSession(SessionConfig{
		URL: "ws://test", Username: "alice", Room: "lobby",
		Dialer: dialer, Bus: NewPeerBus(),
	})
	s.Start(context.Background())

	waitForState(t, s, StateActiveLive)

	if len(stub.sent) != 1 {
		t.Fatalf("expected join to be sent on activation, got %d sends", len(stub.sent))
	}
}

func TestSessionFallsBackWhenUnsupported(t *testing.T) {
	s := NewSession(SessionConfig{
		Username: "alice", Room: "lobby",
		Dialer: nil, Bus: NewPeerBus(),
	})
	s.Start(context.Background())

	waitForState(t, s, StateActiveFallback)
}

func TestSessionFallsBackOnDialError(t *testing.T) {
	dialer := func(ctx context.Context, url string) (Transport, error) {
		return nil, errors.New("connection refused")
	}

	s := NewSession(SessionConfig{
		URL: "ws://test", Username: "alice", Room: "lobby",
		Dialer: dialer, Bus: NewPeerBus(),
	})
	s.Start(context.Background())

	waitForState(t, s, StateActiveFallback)
}

func TestSessionFallsBackOnHandshakeTimeout(t *testing.T) {
	stub := newStubTransport() // never emits EventOpened
	dialer := func(ctx context.Context, url string) (Transport, error) {
		return stub, nil
	}

	s := NewSession(SessionConfig{
		URL: "ws://test", Username: "alice", Room: "lobby",
		Dialer: dialer, Bus: NewPeerBus(),
		HandshakeTimeout: 50 * time.Millisecond,
	})
	s.Start(context.Background())

	waitForState(t, s, StateActiveFallback)

	if !stub.closed {
		t.Error("pending transport should be closed after timeout")
	}
}

func TestSessionFallsBackOnCloseBeforeHandshake(t *testing.T) {
	stub := newStubTransport()
	dialer := func(ctx context.Context, url string) (Transport, error) {
		stub.events <- Event{Kind: EventClosed, Err: errors.New("reset")}
		return stub, nil
	}

	s := NewSession(SessionConfig{
		URL: "ws://test", Username: "alice", Room: "lobby",
		Dialer: dialer, Bus: NewPeerBus(),
	})
	s.Start(context.Background())

	waitForState(t, s, StateActiveFallback)
}

func TestFallbackActivatesOnceUnderRacingCauses(t *testing.T) {
	// The transport closes immediately and the handshake timer is nearly
	// elapsed, so both causes fire close together. The session must
	// activate exactly one fallback peer.
	bus := NewPeerBus()
	stub := newStubTransport()
	dialer := func(ctx context.Context, url string) (Transport, error) {
		stub.events <- Event{Kind: EventClosed}
		return stub, nil
	}

	s := NewSession(SessionConfig{
		URL: "ws://test", Username: "alice", Room: "lobby",
		Dialer: dialer, Bus: bus,
		HandshakeTimeout: time.Nanosecond,
	})
	s.Start(context.Background())

	waitForState(t, s, StateActiveFallback)

	// Deliberately fire the settle path again; it must be a no-op.
	s.settle("late cause", nil)
	s.settle("even later", nil)

	bus.mu.Lock()
	peers := len(bus.rooms[KeyPrefix+"lobby"])
	bus.mu.Unlock()
	if peers != 1 {
		t.Fatalf("expected exactly 1 peer on the bus, got %d", peers)
	}
}

func TestLiveCloseAfterHandshakeEndsSession(t *testing.T) {
	stub := newStubTransport()
	dialer := func(ctx context.Context, url string) (Transport, error) {
		stub.events <- Event{Kind: EventOpened}
		return stub, nil
	}

	s := NewSession(SessionConfig{
		URL: "ws://test", Username: "alice", Room: "lobby",
		Dialer: dialer, Bus: NewPeerBus(),
	})
	s.Start(context.Background())
	waitForState(t, s, StateActiveLive)

	stub.Close()

	waitForState(t, s, StateClosed)

	// The session must not have fallen back.
	if s.State() != StateClosed {
		t.Fatalf("expected closed, got %s", s.State())
	}
	if err := s.Send(map[string]string{"type": "message"}); err == nil {
		t.Error("send after close should fail")
	}
}

func TestSessionForwardsMessages(t *testing.T) {
	stub := newStubTransport()
	dialer := func(ctx context.Context, url string) (Transport, error) {
		stub.events <- Event{Kind: EventOpened}
		return stub, nil
	}

	s := NewSession(SessionConfig{
		URL: "ws://test", Username: "alice", Room: "lobby",
		Dialer: dialer, Bus: NewPeerBus(),
	})
	s.Start(context.Background())
	waitForState(t, s, StateActiveLive)

	stub.events <- Event{Kind: EventMessage, Data: []byte(`{"type":"message","text":"hi"}`)}

	select {
	case ev := <-s.Events():
		if ev.Kind != EventMessage {
			t.Fatalf("expected message event, got %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forwarded message")
	}
}

func TestCloseDuringConnecting(t *testing.T) {
	stub := newStubTransport() // never opens
	dialer := func(ctx context.Context, url string) (Transport, error) {
		return stub, nil
	}

	s := NewSession(SessionConfig{
		URL: "ws://test", Username: "alice", Room: "lobby",
		Dialer: dialer, Bus: NewPeerBus(),
		HandshakeTimeout: time.Hour,
	})
	s.Start(context.Background())

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	waitForState(t, s, StateClosed)
}
