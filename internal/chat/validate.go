package chat

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"
)

// Input limits shared by every transport.
const (
	MinUsernameChars = 2
	MaxUsernameChars = 20
	MaxRoomChars     = 30
	MaxTextChars     = 500
)

// DefaultRoom is used when a client joins without naming a room.
const DefaultRoom = "general"

// ValidateUsername checks that a username meets the length requirements
// after trimming. It returns the trimmed username.
func ValidateUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	n := utf8.RuneCountInString(username)
	if n < MinUsernameChars {
		return "", fmt.Errorf("username must be at least %d characters", MinUsernameChars)
	}
	if n > MaxUsernameChars {
		return "", fmt.Errorf("username exceeds %d character limit", MaxUsernameChars)
	}
	return username, nil
}

// NormalizeRoom maps an arbitrary room name onto the restricted charset:
// lowercase, spaces collapsed to hyphens, everything outside [a-z0-9-]
// dropped, capped at MaxRoomChars runes. An input that normalizes to nothing
// yields DefaultRoom.
func NormalizeRoom(room string) string {
	room = strings.ToLower(strings.TrimSpace(room))

	var b strings.Builder
	for _, r := range room {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('-')
		}
	}

	out := b.String()
	if utf8.RuneCountInString(out) > MaxRoomChars {
		out = out[:MaxRoomChars]
	}
	if out == "" {
		return DefaultRoom
	}
	return out
}

// ValidateText checks that a message text is non-empty and within the
// character limit after trimming. It returns the trimmed text.
func ValidateText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("message text is empty")
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return "", fmt.Errorf("message exceeds %d character limit", MaxTextChars)
	}
	if !utf8.ValidString(text) {
		return "", fmt.Errorf("message contains invalid UTF-8")
	}
	return text, nil
}

// Sanitize escapes markup in user-supplied text so that no raw HTML passes
// through to storage or rendering.
func Sanitize(text string) string {
	return html.EscapeString(text)
}
