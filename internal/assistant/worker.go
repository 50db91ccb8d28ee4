package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/neonchat/neonchat/internal/messaging"
)

// Request is a prompt published by a chat server on assistant.request.
// APIKey carries the room's client-configured key, when one is set; the
// worker remembers the latest key per room for its invoker to use.
type Request struct {
	Room   string `json:"room"`
	Prompt string `json:"prompt"`
	APIKey string `json:"api_key,omitempty"`
}

// Reply is published by the worker on assistant.reply.<room>.
type Reply struct {
	Room string `json:"room"`
	Text string `json:"text"`
}

// Worker consumes assistant requests from NATS, invokes the model, and
// publishes replies. It maintains the per-room conversation memory; the
// chat servers stay stateless with respect to assistant context.
type Worker struct {
	nats    *messaging.NATSClient
	invoker Invoker
	memory  *Memory
	timeout time.Duration

	mu   sync.Mutex
	keys map[string]string // room -> latest client-configured API key
}

// NewWorker creates a Worker over the given NATS client and invoker.
func NewWorker(nc *messaging.NATSClient, invoker Invoker) *Worker {
	return &Worker{
		nats:    nc,
		invoker: invoker,
		memory:  NewMemory(DefaultMemoryCap),
		timeout: 30 * time.Second,
		keys:    make(map[string]string),
	}
}

// Memory exposes the worker's conversation memory.
func (w *Worker) Memory() *Memory {
	return w.memory
}

// APIKey returns the latest client-configured key for a room, or the empty
// string. Real invokers read this when building model requests.
func (w *Worker) APIKey(room string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.keys[room]
}

// Run subscribes to assistant requests. Each request is handled in its own
// goroutine so a slow model call never stalls the subscription.
func (w *Worker) Run() error {
	err := w.nats.SubscribeAssistantRequests(func(data []byte) {
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			log.Printf("assistant: dropping malformed request: %v", err)
			return
		}
		if req.Room == "" || req.Prompt == "" {
			log.Printf("assistant: dropping incomplete request for room %q", req.Room)
			return
		}
		go w.handle(req)
	})
	if err != nil {
		return fmt.Errorf("assistant: subscribe requests: %w", err)
	}

	log.Printf("assistant: worker listening on %s", messaging.SubjectAssistantRequest)
	return nil
}

// handle runs one model invocation. An invoker error becomes a visible
// reply so the room learns the assistant failed, and the unanswered prompt
// is dropped from memory.
func (w *Worker) handle(req Request) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if req.APIKey != "" {
		w.mu.Lock()
		w.keys[req.Room] = req.APIKey
		w.mu.Unlock()
	}

	w.memory.Append(req.Room, "user", req.Prompt)

	text, err := w.invoker.Reply(ctx, req.Room, req.Prompt)
	if err != nil {
		log.Printf("assistant: invoke failed for room %q: %v", req.Room, err)
		w.memory.DropLast(req.Room)
		text = fmt.Sprintf("Assistant error: %v", err)
	} else {
		w.memory.Append(req.Room, "assistant", text)
	}

	reply, err := json.Marshal(Reply{Room: req.Room, Text: text})
	if err != nil {
		log.Printf("assistant: marshal reply for room %q: %v", req.Room, err)
		return
	}
	if err := w.nats.PublishAssistantReply(req.Room, reply); err != nil {
		log.Printf("assistant: publish reply for room %q: %v", req.Room, err)
	}
}
