// Package client implements the NeonChat client session: a transport
// abstraction over a live WebSocket connection with a deterministic
// fallback to an in-process peer bus when the live transport cannot be
// established. The application talks to a Session and never learns which
// transport is active except by asking.
package client

import "context"

// EventKind discriminates transport events.
type EventKind int

const (
	// EventOpened signals the transport handshake completed.
	EventOpened EventKind = iota
	// EventMessage carries one inbound protocol envelope.
	EventMessage
	// EventClosed signals the transport ended. Err is set when the close
	// was not requested locally.
	EventClosed
)

// Event is one occurrence on a transport's event stream.
type Event struct {
	Kind EventKind
	Data []byte // envelope bytes, set for EventMessage
	Err  error  // set for abnormal EventClosed
}

// Transport is a connected message channel. Both the live WebSocket
// transport and a fallback peer satisfy it. The Events channel is closed
// after EventClosed is delivered; Close is safe to call more than once.
type Transport interface {
	Send(v interface{}) error
	Events() <-chan Event
	Close() error
}

// Dialer opens a live transport. A nil Dialer on a session config models an
// environment with no WebSocket support at all.
type Dialer func(ctx context.Context, url string) (Transport, error)
