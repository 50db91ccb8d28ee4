// The wsserver command runs the NeonChat real-time WebSocket server. It
// hosts the room coordinator, replays bounded history to joiners, tracks
// push presence, and relays assistant prompts over NATS when a broker is
// configured.
package main

import (
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/neonchat/neonchat/internal/assistant"
	"github.com/neonchat/neonchat/internal/chat"
	"github.com/neonchat/neonchat/internal/messaging"
	"github.com/neonchat/neonchat/internal/metrics"
	"github.com/neonchat/neonchat/internal/presence"
	"github.com/neonchat/neonchat/internal/protocol"
	"github.com/neonchat/neonchat/internal/room"
	"github.com/neonchat/neonchat/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	historyCap := chat.DefaultHistoryCapacity
	if v := os.Getenv("HISTORY_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			historyCap = n
		}
	}

	history := chat.NewHistory(historyCap)
	registry := presence.NewPushRegistry()
	coordinator := room.NewCoordinator(history, registry)

	// --- NATS (assistant relay, optional) ---
	var gateway *assistant.Gateway
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.Name = "neonchat-wsserver"
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig.URL = natsURL
	}
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Printf("NATS unavailable, assistant disabled: %v", err)
		natsClient = nil
	} else {
		gateway = assistant.NewGateway(natsClient, coordinator, os.Getenv("ANTHROPIC_API_KEY"))
		coordinator.SetObserver(gateway.OnChatMessage)
		if err := gateway.Run(); err != nil {
			log.Fatalf("assistant gateway: %v", err)
		}
	}

	log.Printf("NeonChat WebSocket server starting")
	log.Printf("  listen_addr:      %s", config.ListenAddr)
	log.Printf("  worker_pool:      %d", config.WorkerPoolSize)
	log.Printf("  max_connections:  %d", config.MaxConnections)
	log.Printf("  read_timeout:     %s", config.ReadTimeout)
	log.Printf("  write_timeout:    %s", config.WriteTimeout)
	log.Printf("  history_capacity: %d", historyCap)
	log.Printf("  nats_url:         %s", natsConfig.URL)
	log.Printf("  assistant:        %v", gateway != nil)

	dispatcher := ws.NewDispatcher()

	dispatcher.Register(protocol.TypeJoin, func(conn *ws.Connection, raw json.RawMessage) {
		var msg protocol.JoinMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			sendError(conn, "invalid join payload")
			return
		}

		username, err := chat.ValidateUsername(msg.Username)
		if err != nil {
			sendError(conn, "invalid nickname")
			return
		}
		roomName := chat.NormalizeRoom(msg.Room)

		coordinator.Join(conn, chat.Sanitize(username), roomName)

		if gateway != nil {
			sendAIStatus(conn, gateway.HasKey(roomName))
		}
	})

	dispatcher.Register(protocol.TypeMessage, func(conn *ws.Connection, raw json.RawMessage) {
		var msg protocol.ChatMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			sendError(conn, "invalid message payload")
			return
		}

		// The /apikey command configures the assistant; it carries a
		// secret and is never broadcast into the room.
		if key, ok := assistant.ParseAPIKeyCommand(msg.Text); ok {
			if gateway == nil {
				sendAIStatus(conn, false)
				return
			}
			roomName := coordinator.Room(conn.ID())
			if roomName == "" {
				sendError(conn, "not in a room")
				return
			}
			gateway.SetAPIKey(roomName, key)
			sendAIStatus(conn, gateway.HasKey(roomName))
			return
		}

		if _, err := coordinator.Message(conn.ID(), msg.Text); err != nil {
			sendError(conn, err.Error())
		}
	})

	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, raw json.RawMessage) {
		var msg protocol.TypingMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		coordinator.Typing(conn.ID(), msg.Active)
	})

	dispatcher.Register(protocol.TypeSetAPIKey, func(conn *ws.Connection, raw json.RawMessage) {
		var msg protocol.SetAPIKeyMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			sendError(conn, "invalid set_api_key payload")
			return
		}
		if gateway == nil {
			sendAIStatus(conn, false)
			return
		}

		roomName := coordinator.Room(conn.ID())
		if roomName == "" {
			sendError(conn, "not in a room")
			return
		}

		gateway.SetAPIKey(roomName, msg.Key)
		sendAIStatus(conn, gateway.HasKey(roomName))
	})

	server := ws.NewServer(config, dispatcher.Dispatch)
	server.SetOnDisconnect(coordinator.Leave)
	server.Handle("/metrics", metrics.Handler())

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down", sig)
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if natsClient != nil {
			natsClient.Close()
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func sendError(conn *ws.Connection, reason string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{Message: reason})
	if err != nil {
		return
	}
	_ = conn.Send(data)
}

func sendAIStatus(conn *ws.Connection, ok bool) {
	text := "Assistant ready. Write @ai <question> to chat with it."
	if !ok {
		text = "Assistant inactive. Send set_api_key to enable it."
	}
	data, err := protocol.NewServerMessage(protocol.TypeAIStatus, protocol.AIStatusMsg{OK: ok, Message: text})
	if err != nil {
		return
	}
	_ = conn.Send(data)
}
