package client

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/neonchat/neonchat/internal/protocol"
)

// State is a session's position in its lifecycle. A session moves forward
// only: INIT, CONNECTING, then exactly one of the ACTIVE states, and
// finally CLOSED. There is no transition from fallback back to live and no
// reconnection after a live connection drops.
type State int

const (
	StateInit State = iota
	StateConnecting
	StateActiveLive
	StateActiveFallback
	StateClosed
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateActiveLive:
		return "active_live"
	case StateActiveFallback:
		return "active_fallback"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DefaultHandshakeTimeout is how long a session waits for the live
// transport to open before falling back.
const DefaultHandshakeTimeout = 2 * time.Second

// SessionConfig configures a client session.
type SessionConfig struct {
	URL      string
	Username string
	Room     string

	// Dialer opens the live transport. nil means the environment has no
	// WebSocket support and the session falls back immediately.
	Dialer Dialer

	// Bus is the fallback peer bus shared by co-located clients.
	Bus *PeerBus

	// HandshakeTimeout overrides DefaultHandshakeTimeout when positive.
	HandshakeTimeout time.Duration
}

// Session drives one client's connection lifecycle. All inbound envelopes,
// live or fallback, arrive on Events; the application sends through Send
// without knowing which transport is underneath.
type Session struct {
	config  SessionConfig
	events  chan Event
	timeout time.Duration
	done    chan struct{}

	mu        sync.Mutex
	state     State
	transport Transport

	settleOnce sync.Once // guards the single transition out of CONNECTING
	closeOnce  sync.Once
}

// NewSession creates a session in StateInit.
func NewSession(config SessionConfig) *Session {
	timeout := config.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	return &Session{
		config:  config,
		events:  make(chan Event, 32),
		timeout: timeout,
		done:    make(chan struct{}),
		state:   StateInit,
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events returns the session's inbound event stream. The stream is
// buffered; when the consumer falls behind and the buffer fills, further
// events are dropped rather than blocking the transport. Closure of the
// channel is the authoritative end-of-session signal; the EventClosed
// that precedes it is itself subject to the drop policy.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Start begins connecting. The outcome, live or fallback, is settled
// exactly once no matter how many failure causes fire; the first cause
// wins and the rest are ignored.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateInit {
		s.mu.Unlock()
		return
	}
	s.state = StateConnecting
	s.mu.Unlock()

	if s.config.Dialer == nil {
		s.settle("websocket unsupported", nil)
		return
	}

	go s.connect(ctx)
}

// connect attempts the live transport and arbitrates among the fallback
// causes: dial error, handshake timeout, and close before open.
func (s *Session) connect(ctx context.Context) {
	dialCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	transport, err := s.config.Dialer(dialCtx, s.config.URL)
	if err != nil {
		s.settle(fmt.Sprintf("dial failed: %v", err), nil)
		return
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	for {
		select {
		case <-s.done:
			_ = transport.Close()
			return

		case <-timer.C:
			_ = transport.Close()
			s.settle("handshake timeout", nil)
			return

		case ev, ok := <-transport.Events():
			if !ok {
				s.settle("connection ended before handshake", nil)
				return
			}
			switch ev.Kind {
			case EventOpened:
				s.settle("", transport)
				return
			case EventClosed:
				s.settle(fmt.Sprintf("closed before handshake: %v", ev.Err), nil)
				return
			}
			// Frames before EventOpened are not expected; ignore.
		}
	}
}

// settle performs the single transition out of CONNECTING. An empty reason
// with a transport activates live mode; otherwise the session activates
// the fallback bus. Repeated calls are no-ops.
func (s *Session) settle(reason string, live Transport) {
	s.settleOnce.Do(func() {
		if live != nil {
			s.activateLive(live)
			return
		}
		s.activateFallback(reason)
	})
}

func (s *Session) activateLive(transport Transport) {
	// Join is sent before the session reports itself active, so a caller
	// that observes ACTIVE can rely on the room binding being on the wire.
	if err := transport.Send(protocol.JoinMsg{
		Type:     protocol.TypeJoin,
		Username: s.config.Username,
		Room:     s.config.Room,
	}); err != nil {
		log.Printf("client: join send failed: %v", err)
	}

	s.mu.Lock()
	s.state = StateActiveLive
	s.transport = transport
	s.mu.Unlock()

	log.Printf("client: session active over live transport (user=%s room=%s)",
		s.config.Username, s.config.Room)

	go s.forward(transport)
}

func (s *Session) activateFallback(reason string) {
	if s.config.Bus == nil {
		log.Printf("client: no fallback bus configured, closing session (%s)", reason)
		s.shutdown(nil)
		return
	}

	peer := s.config.Bus.Join(s.config.Room, s.config.Username)

	s.mu.Lock()
	s.state = StateActiveFallback
	s.transport = peer
	s.mu.Unlock()

	log.Printf("client: session active over fallback bus (user=%s room=%s cause=%s)",
		s.config.Username, s.config.Room, reason)

	go s.forward(peer)
}

// forward copies the active transport's events to the session stream. A
// close of the live transport after activation ends the session for good;
// the fallback never activates retroactively.
func (s *Session) forward(transport Transport) {
	for ev := range transport.Events() {
		switch ev.Kind {
		case EventOpened:
			// Already consumed during connect for live; fallback peers
			// emit it before any traffic. Not surfaced to the app.
		case EventMessage:
			select {
			case s.events <- ev:
			default:
			}
		case EventClosed:
			s.shutdown(ev.Err)
			return
		}
	}
	s.shutdown(nil)
}

// Send passes an envelope to the active transport.
func (s *Session) Send(v interface{}) error {
	s.mu.Lock()
	transport := s.transport
	state := s.state
	s.mu.Unlock()

	if transport == nil || (state != StateActiveLive && state != StateActiveFallback) {
		return fmt.Errorf("client: session not active (state=%s)", state)
	}
	return transport.Send(v)
}

// Close ends the session. The active transport is torn down; for a
// fallback peer that also broadcasts leave to the remaining peers.
func (s *Session) Close() error {
	// Pre-activation close settles the race so a late handshake cannot
	// resurrect the session.
	s.settleOnce.Do(func() {})

	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()

	if transport != nil {
		return transport.Close()
	}

	s.shutdown(nil)
	return nil
}

// shutdown moves the session to CLOSED and notifies the application.
func (s *Session) shutdown(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()

		close(s.done)

		if err != nil {
			log.Printf("client: session ended: %v", err)
		}

		select {
		case s.events <- Event{Kind: EventClosed, Err: err}:
		default:
		}
		close(s.events)
	})
}
