package poll

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/neonchat/neonchat/internal/chat"
	"github.com/neonchat/neonchat/internal/metrics"
	"github.com/neonchat/neonchat/internal/presence"
)

// Handler serves the polling REST API. Validation and sanitization are the
// same as on the WebSocket path; a message posted here and one sent over a
// socket are held to identical rules.
type Handler struct {
	store    *MessageStore
	presence *presence.TTLRegistry
	timeout  time.Duration
}

// NewHandler creates a Handler over the given stores.
func NewHandler(store *MessageStore, reg *presence.TTLRegistry) *Handler {
	return &Handler{
		store:    store,
		presence: reg,
		timeout:  5 * time.Second,
	}
}

// Register mounts all polling routes on the given mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/messages", h.getMessages)
	mux.HandleFunc("POST /api/messages", h.postMessage)
	mux.HandleFunc("GET /api/users", h.getUsers)
	mux.HandleFunc("POST /api/heartbeat", h.heartbeat)
}

func (h *Handler) getMessages(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	room := chat.NormalizeRoom(r.URL.Query().Get("room"))
	since := r.URL.Query().Get("since")

	msgs, err := h.store.Since(ctx, room, since)
	if err != nil {
		log.Printf("poll: message read failed for room %q: %v", room, err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	metrics.MessagesTotal.WithLabelValues("polled").Add(float64(len(msgs)))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"room":     room,
	})
}

func (h *Handler) postMessage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	var body struct {
		Username string `json:"username"`
		Room     string `json:"room"`
		Text     string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	username, err := chat.ValidateUsername(body.Username)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	text, err := chat.ValidateText(body.Text)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	msg := PolledMessage{
		ID:        "msg_" + uuid.New().String(),
		Username:  chat.Sanitize(username),
		Room:      chat.NormalizeRoom(body.Room),
		Text:      chat.Sanitize(text),
		Timestamp: chat.Now(),
	}

	if err := h.store.Append(ctx, msg); err != nil {
		log.Printf("poll: message append failed for room %q: %v", msg.Room, err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	metrics.MessagesTotal.WithLabelValues("accepted").Inc()
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) getUsers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	room := chat.NormalizeRoom(r.URL.Query().Get("room"))

	users, err := h.presence.UsersInRoom(ctx, room)
	if err != nil {
		log.Printf("poll: presence read failed for room %q: %v", room, err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	var body struct {
		Username string `json:"username"`
		Room     string `json:"room"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	username, err := chat.ValidateUsername(body.Username)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	room := chat.NormalizeRoom(body.Room)

	if err := h.presence.Heartbeat(ctx, room, username); err != nil {
		log.Printf("poll: heartbeat failed for %q in room %q: %v", username, room, err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (h *Handler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.timeout)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
