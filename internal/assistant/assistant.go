// Package assistant implements the NeonBot AI collaborator. Chat servers
// detect trigger prefixes in routed messages and publish prompts over NATS;
// a worker process invokes the configured model and publishes replies back,
// which the servers inject into the room as regular messages marked is_ai.
package assistant

import (
	"context"
	"strings"
)

// BotName is the username under which assistant messages appear.
const BotName = "NeonBot"

// DefaultGreeting is the prompt substituted for a bare trigger with no
// question attached.
const DefaultGreeting = "Hi! How can you help me?"

// Invoker produces an assistant reply for a prompt in a room's
// conversation. Implementations may consult per-room context; they must be
// safe for concurrent use.
type Invoker interface {
	Reply(ctx context.Context, room, prompt string) (string, error)
}

// ParseTrigger checks whether a chat message addresses the assistant.
// Messages starting with "@ai " or "/ai " carry the rest as the prompt; a
// bare "@ai" or "/ai" yields DefaultGreeting. The match is case
// insensitive. Returns ok=false for ordinary messages.
func ParseTrigger(text string) (prompt string, ok bool) {
	trimmed := strings.TrimSpace(text)
	low := strings.ToLower(trimmed)

	switch {
	case strings.HasPrefix(low, "@ai "), strings.HasPrefix(low, "/ai "):
		prompt = strings.TrimSpace(trimmed[4:])
		if prompt == "" {
			prompt = DefaultGreeting
		}
		return prompt, true
	case low == "@ai", low == "/ai":
		return DefaultGreeting, true
	}
	return "", false
}

// ParseAPIKeyCommand recognizes the in-chat "/apikey <key>" command, the
// typed alternative to the set_api_key envelope. The remainder of the line
// is the key; a bare "/apikey" yields an empty key, which clears the room's
// override. Returns ok=false for ordinary messages.
func ParseAPIKeyCommand(text string) (key string, ok bool) {
	trimmed := strings.TrimSpace(text)
	low := strings.ToLower(trimmed)

	switch {
	case strings.HasPrefix(low, "/apikey "):
		return strings.TrimSpace(trimmed[len("/apikey "):]), true
	case low == "/apikey":
		return "", true
	}
	return "", false
}

// StaticInvoker is a canned Invoker used when no model credentials are
// configured, so the system runs end to end without external services.
type StaticInvoker struct {
	Response string
}

// Reply returns the canned response regardless of prompt.
func (s *StaticInvoker) Reply(_ context.Context, _, _ string) (string, error) {
	if s.Response == "" {
		return "I'm a placeholder assistant. Configure an API key to chat with a real model.", nil
	}
	return s.Response, nil
}
