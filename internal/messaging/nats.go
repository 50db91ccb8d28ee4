// Package messaging provides the NATS client wrapper used to relay
// assistant traffic between the chat servers and the assistant worker.
// It handles connection lifecycle, subject-based subscriptions, and
// convenience methods for the assistant request/reply channels.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used across NeonChat services.
const (
	SubjectAssistantRequest = "assistant.request"
	SubjectAssistantReply   = "assistant.reply" // + .<room>
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "neonchat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// PublishAssistantRequest publishes a prompt for the assistant worker.
func (c *NATSClient) PublishAssistantRequest(data []byte) error {
	return c.Publish(SubjectAssistantRequest, data)
}

// SubscribeAssistantRequests subscribes to prompts from the chat servers.
// Used by the assistant worker process.
func (c *NATSClient) SubscribeAssistantRequests(handler func(data []byte)) error {
	return c.Subscribe(SubjectAssistantRequest, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishAssistantReply publishes an assistant reply for a specific room.
func (c *NATSClient) PublishAssistantReply(room string, data []byte) error {
	return c.Publish(SubjectAssistantReply+"."+room, data)
}

// SubscribeAssistantReplies subscribes to assistant replies for every room
// using a wildcard subject. Used by the chat servers to inject replies into
// the right room.
func (c *NATSClient) SubscribeAssistantReplies(handler func(data []byte)) error {
	return c.Subscribe(SubjectAssistantReply+".*", func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// unsubscribe removes and unsubscribes a stored subscription by key.
func (c *NATSClient) unsubscribe(key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if ok {
		delete(c.subs, key)
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

// Unsubscribe removes the subscription for the given subject, if any.
func (c *NATSClient) Unsubscribe(subject string) error {
	return c.unsubscribe(subject)
}

// Close drains all subscriptions and closes the connection. Drain lets
// in-flight messages finish before the connection drops.
func (c *NATSClient) Close() {
	c.mu.Lock()
	for key, sub := range c.subs {
		_ = sub.Unsubscribe()
		delete(c.subs, key)
	}
	c.mu.Unlock()

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] drain error: %v", err)
	}
}
