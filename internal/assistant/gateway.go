package assistant

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/neonchat/neonchat/internal/chat"
	"github.com/neonchat/neonchat/internal/messaging"
	"github.com/neonchat/neonchat/internal/room"
)

// Gateway is the chat-server side of the assistant relay. It watches routed
// messages for trigger prefixes, publishes prompts over NATS, and injects
// replies back into the room bracketed by NeonBot typing broadcasts.
type Gateway struct {
	nats        *messaging.NATSClient
	coordinator *room.Coordinator
	defaultKey  string // from the environment; rooms may override

	mu   sync.Mutex
	keys map[string]string
}

// NewGateway creates a Gateway. defaultKey may be empty, in which case
// rooms without a client-configured key get a hint instead of a reply.
func NewGateway(nc *messaging.NATSClient, c *room.Coordinator, defaultKey string) *Gateway {
	return &Gateway{
		nats:        nc,
		coordinator: c,
		defaultKey:  defaultKey,
		keys:        make(map[string]string),
	}
}

// SetAPIKey configures the assistant key for a room. An empty key clears
// the room override.
func (g *Gateway) SetAPIKey(room, key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if key == "" {
		delete(g.keys, room)
		return
	}
	g.keys[room] = key
}

// HasKey reports whether the assistant can answer in the given room.
func (g *Gateway) HasKey(room string) bool {
	return g.keyFor(room) != ""
}

func (g *Gateway) keyFor(room string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if key, ok := g.keys[room]; ok {
		return key
	}
	return g.defaultKey
}

// OnChatMessage inspects an accepted chat message for an assistant trigger.
// Wired as the coordinator's message observer, so it only ever sees
// messages that passed validation and were broadcast. Assistant-authored
// messages are skipped to keep the bot from talking to itself.
func (g *Gateway) OnChatMessage(roomName string, msg chat.Message) {
	if msg.IsAI || msg.Username == BotName {
		return
	}

	prompt, ok := ParseTrigger(msg.Text)
	if !ok {
		return
	}

	key := g.keyFor(roomName)
	if key == "" {
		g.inject(roomName, "No API key configured. Send set_api_key to enable me!")
		return
	}

	data, err := json.Marshal(Request{Room: roomName, Prompt: prompt, APIKey: key})
	if err != nil {
		log.Printf("assistant: marshal request for room %q: %v", roomName, err)
		return
	}

	g.coordinator.InjectTyping(roomName, BotName, true)

	if err := g.nats.PublishAssistantRequest(data); err != nil {
		log.Printf("assistant: publish request for room %q: %v", roomName, err)
		g.coordinator.InjectTyping(roomName, BotName, false)
		g.inject(roomName, fmt.Sprintf("Assistant unavailable: %v", err))
	}
}

// Run subscribes to assistant replies for every room and injects them as
// is_ai messages, clearing the typing indicator first.
func (g *Gateway) Run() error {
	err := g.nats.SubscribeAssistantReplies(func(data []byte) {
		var reply Reply
		if err := json.Unmarshal(data, &reply); err != nil {
			log.Printf("assistant: dropping malformed reply: %v", err)
			return
		}
		if reply.Room == "" || reply.Text == "" {
			return
		}

		g.coordinator.InjectTyping(reply.Room, BotName, false)
		g.inject(reply.Room, reply.Text)
	})
	if err != nil {
		return fmt.Errorf("assistant: subscribe replies: %w", err)
	}
	return nil
}

func (g *Gateway) inject(roomName, text string) {
	g.coordinator.Inject(roomName, chat.Message{
		Kind:      chat.KindChat,
		Username:  BotName,
		Text:      text,
		Timestamp: chat.Now(),
		IsAI:      true,
	})
}
