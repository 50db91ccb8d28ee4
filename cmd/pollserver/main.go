// The pollserver command runs the NeonChat HTTP polling API: the REST
// alternative for clients without WebSocket support, plus the account
// endpoints for authentication and PIN redemption. Messages and presence
// live in Redis; accounts live in PostgreSQL.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neonchat/neonchat/internal/account"
	"github.com/neonchat/neonchat/internal/metrics"
	"github.com/neonchat/neonchat/internal/poll"
	"github.com/neonchat/neonchat/internal/presence"
)

func main() {
	listenAddr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		listenAddr = v
	}

	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}

	messageCap := int64(poll.DefaultMessageCap)
	if v := os.Getenv("MESSAGE_CAP"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			messageCap = n
		}
	}

	presenceTTL := presence.DefaultTTL
	if v := os.Getenv("PRESENCE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			presenceTTL = d
		}
	}

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis at %s: %v", redisAddr, err)
	}
	cancel()

	mux := http.NewServeMux()

	store := poll.NewMessageStore(rdb, messageCap)
	registry := presence.NewTTLRegistry(rdb, presenceTTL)
	poll.NewHandler(store, registry).Register(mux)

	// --- PostgreSQL accounts (optional) ---
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn != "" {
		db, err := account.Open(dsn)
		if err != nil {
			log.Fatalf("failed to connect to PostgreSQL: %v", err)
		}
		defer db.Close()

		if err := account.Migrate(db); err != nil {
			log.Fatalf("failed to migrate accounts schema: %v", err)
		}

		pins, err := account.ParsePins(os.Getenv("REDEEM_PINS"))
		if err != nil {
			log.Fatalf("failed to parse REDEEM_PINS: %v", err)
		}

		account.NewHandler(account.NewStore(db, pins)).Register(mux)
		log.Printf("account endpoints enabled (%d redemption pins)", len(pins))
	} else {
		log.Printf("POSTGRES_DSN not set, account endpoints disabled")
	}

	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	server := &http.Server{
		Addr:         listenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("NeonChat polling server starting")
	log.Printf("  listen_addr:  %s", listenAddr)
	log.Printf("  redis_addr:   %s", redisAddr)
	log.Printf("  message_cap:  %d", messageCap)
	log.Printf("  presence_ttl: %s", presenceTTL)

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
