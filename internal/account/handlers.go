package account

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"
)

// Handler exposes authentication and redemption over the polling API.
type Handler struct {
	store   *Store
	timeout time.Duration
}

// NewHandler creates a Handler over the given store.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store, timeout: 5 * time.Second}
}

// Register mounts the account routes on the given mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth", h.auth)
	mux.HandleFunc("POST /api/redeem", h.redeem)
}

func (h *Handler) auth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Username == "" || body.Password == "" {
		writeError(w, http.StatusUnprocessableEntity, "username and password are required")
		return
	}

	acct, err := h.store.Authenticate(ctx, body.Username, body.Password)
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	case err != nil:
		log.Printf("account: authenticate failed for %q: %v", body.Username, err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	writeJSON(w, http.StatusOK, acct)
}

func (h *Handler) redeem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var body struct {
		Username string `json:"username"`
		PIN      string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Username == "" || body.PIN == "" {
		writeError(w, http.StatusUnprocessableEntity, "username and pin are required")
		return
	}

	result, err := h.store.Redeem(ctx, body.Username, body.PIN)
	switch {
	case errors.Is(err, ErrUnknownPIN):
		writeError(w, http.StatusUnauthorized, "invalid pin")
		return
	case errors.Is(err, ErrUnknownUser):
		writeError(w, http.StatusNotFound, "unknown user")
		return
	case err != nil:
		log.Printf("account: redeem failed for %q: %v", body.Username, err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"amount":      result.Amount,
		"new_balance": result.NewBalance,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
