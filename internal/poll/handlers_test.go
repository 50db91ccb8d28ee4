package poll

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neonchat/neonchat/internal/presence"
)

// newTestServer connects to a local Redis instance, skipping the test when
// none is available, and returns an httptest server over a fresh Handler.
func newTestServer(t *testing.T) (*httptest.Server, *redis.Client) {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	t.Cleanup(func() {
		cleanCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		keys, _ := rdb.Keys(cleanCtx, MessagePrefix+"test-*").Result()
		pres, _ := rdb.Keys(cleanCtx, presence.PresencePrefix+"test-*").Result()
		keys = append(keys, pres...)
		if len(keys) > 0 {
			rdb.Del(cleanCtx, keys...)
		}
		rdb.Close()
	})

	h := NewHandler(NewMessageStore(rdb, 0), presence.NewTTLRegistry(rdb, 30*time.Second))
	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, rdb
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestPostAndGetMessages(t *testing.T) {
	srv, _ := newTestServer(t)
	room := fmt.Sprintf("test-room-%d", time.Now().UnixNano())

	resp := postJSON(t, srv.URL+"/api/messages", map[string]string{
		"username": "alice",
		"room":     room,
		"text":     "hello there",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var created PolledMessage
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode created message: %v", err)
	}
	if created.ID == "" || created.Timestamp == "" {
		t.Errorf("server should assign id and timestamp, got %+v", created)
	}

	getResp, err := http.Get(srv.URL + "/api/messages?room=" + room)
	if err != nil {
		t.Fatalf("GET messages: %v", err)
	}
	defer getResp.Body.Close()

	var page struct {
		Messages []PolledMessage `json:"messages"`
		Room     string          `json:"room"`
	}
	if err := json.NewDecoder(getResp.Body).Decode(&page); err != nil {
		t.Fatalf("decode message page: %v", err)
	}
	if len(page.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(page.Messages))
	}
	if page.Messages[0].Text != "hello there" {
		t.Errorf("expected text %q, got %q", "hello there", page.Messages[0].Text)
	}
	if page.Room != room {
		t.Errorf("expected room %q, got %q", room, page.Room)
	}
}

func TestGetMessagesSince(t *testing.T) {
	srv, _ := newTestServer(t)
	room := fmt.Sprintf("test-since-%d", time.Now().UnixNano())

	first := postJSON(t, srv.URL+"/api/messages", map[string]string{
		"username": "alice", "room": room, "text": "older",
	})
	var firstMsg PolledMessage
	if err := json.NewDecoder(first.Body).Decode(&firstMsg); err != nil {
		t.Fatalf("decode first message: %v", err)
	}
	first.Body.Close()

	// Timestamps are second resolution, so step past the first one.
	time.Sleep(1100 * time.Millisecond)

	second := postJSON(t, srv.URL+"/api/messages", map[string]string{
		"username": "bob", "room": room, "text": "newer",
	})
	second.Body.Close()

	resp, err := http.Get(srv.URL + "/api/messages?room=" + room + "&since=" + firstMsg.Timestamp)
	if err != nil {
		t.Fatalf("GET messages since: %v", err)
	}
	defer resp.Body.Close()

	var page struct {
		Messages []PolledMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode message page: %v", err)
	}
	if len(page.Messages) != 1 {
		t.Fatalf("expected only the newer message, got %d", len(page.Messages))
	}
	if page.Messages[0].Text != "newer" {
		t.Errorf("expected %q, got %q", "newer", page.Messages[0].Text)
	}
}

func TestPostMessageMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/messages", "application/json",
		bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestPostMessageValidation(t *testing.T) {
	srv, rdb := newTestServer(t)
	room := fmt.Sprintf("test-valid-%d", time.Now().UnixNano())

	cases := []struct {
		name string
		body map[string]string
	}{
		{"short username", map[string]string{"username": "a", "room": room, "text": "hi"}},
		{"empty text", map[string]string{"username": "alice", "room": room, "text": "   "}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/api/messages", tc.body)
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusUnprocessableEntity {
				t.Errorf("expected 422, got %d", resp.StatusCode)
			}
		})
	}

	// Rejected messages must not reach the store.
	ctx := context.Background()
	n, err := rdb.LLen(ctx, MessagePrefix+room).Result()
	if err != nil {
		t.Fatalf("llen: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no stored messages after rejections, got %d", n)
	}
}

func TestHeartbeatAndUsers(t *testing.T) {
	srv, _ := newTestServer(t)
	room := fmt.Sprintf("test-hb-%d", time.Now().UnixNano())

	for _, user := range []string{"alice", "bob"} {
		resp := postJSON(t, srv.URL+"/api/heartbeat", map[string]string{
			"username": user, "room": room,
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("heartbeat for %s: expected 200, got %d", user, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/api/users?room=" + room)
	if err != nil {
		t.Fatalf("GET users: %v", err)
	}
	defer resp.Body.Close()

	var page struct {
		Users []string `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode users: %v", err)
	}
	if len(page.Users) != 2 {
		t.Fatalf("expected 2 users, got %v", page.Users)
	}
	if page.Users[0] != "alice" || page.Users[1] != "bob" {
		t.Errorf("expected sorted [alice bob], got %v", page.Users)
	}
}

func TestHeartbeatValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/heartbeat", map[string]string{
		"username": "", "room": "test-hbv",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", resp.StatusCode)
	}
}

func TestStoreCapEnforced(t *testing.T) {
	_, rdb := newTestServer(t)
	room := fmt.Sprintf("test-cap-%d", time.Now().UnixNano())

	store := NewMessageStore(rdb, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := store.Append(ctx, PolledMessage{
			ID:        fmt.Sprintf("msg_%d", i),
			Username:  "alice",
			Room:      room,
			Text:      fmt.Sprintf("msg %d", i),
			Timestamp: fmt.Sprintf("2026-01-01T00:00:0%dZ", i),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	msgs, err := store.Since(ctx, room, "")
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 retained messages, got %d", len(msgs))
	}
	if msgs[0].ID != "msg_2" || msgs[2].ID != "msg_4" {
		t.Errorf("expected oldest two evicted, got %v", msgs)
	}
}
