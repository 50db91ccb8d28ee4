package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/neonchat/neonchat/internal/protocol"
)

// HandlerFunc processes a single decoded client message. The raw payload is
// the full envelope JSON; handlers decode the shape they expect.
type HandlerFunc func(conn *Connection, raw json.RawMessage)

// Dispatcher routes inbound envelopes to handlers registered per message
// type. A malformed envelope or an unregistered type is answered with a
// protocol error message and otherwise ignored; the connection stays open,
// so one bad frame never costs the client its session.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewDispatcher creates a Dispatcher with no handlers registered.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register installs a handler for the given message type, replacing any
// previous registration.
func (d *Dispatcher) Register(msgType string, h HandlerFunc) {
	d.mu.Lock()
	d.handlers[msgType] = h
	d.mu.Unlock()
}

// Dispatch decodes an inbound frame and invokes the matching handler.
// Intended for use as the server's onMessage callback.
func (d *Dispatcher) Dispatch(conn *Connection, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("ws: dropping frame from conn %s: %v", conn.ID(), err)
		d.sendError(conn, "invalid message")
		return
	}

	d.mu.RLock()
	h, ok := d.handlers[env.Type]
	d.mu.RUnlock()

	if !ok {
		log.Printf("ws: no handler for type %q from conn %s", env.Type, conn.ID())
		d.sendError(conn, "unsupported message type")
		return
	}

	h(conn, env.Raw)
}

func (d *Dispatcher) sendError(conn *Connection, reason string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{Message: reason})
	if err != nil {
		return
	}
	if err := conn.Send(data); err != nil {
		log.Printf("ws: error reply failed for conn %s: %v", conn.ID(), err)
	}
}
