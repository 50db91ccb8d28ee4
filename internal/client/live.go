package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// LiveTransport is the WebSocket implementation of Transport, using the
// same gobwas/ws library the server is built on.
type LiveTransport struct {
	conn      net.Conn
	events    chan Event
	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// DialLive connects to a NeonChat WebSocket server. On success the returned
// transport emits EventOpened and then EventMessage for each inbound frame.
// A dial failure is the construction-error fallback cause; the caller gets
// no transport at all.
func DialLive(ctx context.Context, url string) (Transport, error) {
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", url, err)
	}

	t := &LiveTransport{
		conn:   conn,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}

	t.events <- Event{Kind: EventOpened}
	go t.readLoop()

	return t, nil
}

// Send marshals v and writes it as a client text frame. Goroutine-safe.
func (t *LiveTransport) Send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("client: marshal: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return wsutil.WriteClientMessage(t.conn, ws.OpText, data)
}

// Events returns the transport's event stream.
func (t *LiveTransport) Events() <-chan Event {
	return t.events
}

// Close shuts the connection down. Safe to call multiple times; the read
// loop emits the final EventClosed.
func (t *LiveTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}

// readLoop reads server frames until the connection ends, then delivers
// EventClosed and closes the event channel.
func (t *LiveTransport) readLoop() {
	defer close(t.events)

	for {
		data, err := wsutil.ReadServerText(t.conn)
		if err != nil {
			select {
			case <-t.done:
				// Locally requested close.
				t.events <- Event{Kind: EventClosed}
			default:
				t.events <- Event{Kind: EventClosed, Err: err}
			}
			return
		}

		t.events <- Event{Kind: EventMessage, Data: data}
	}
}
