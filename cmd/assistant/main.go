// The assistant command runs the NeonBot worker: it consumes prompt
// requests published by the chat servers over NATS, invokes the configured
// model, and publishes replies back per room.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/neonchat/neonchat/internal/assistant"
	"github.com/neonchat/neonchat/internal/messaging"
)

func main() {
	log.Println("Starting NeonChat assistant worker...")

	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "neonchat-assistant"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// The canned invoker keeps the relay functional without model
	// credentials; deployments swap in a real model client here.
	invoker := &assistant.StaticInvoker{
		Response: os.Getenv("ASSISTANT_CANNED_REPLY"),
	}

	worker := assistant.NewWorker(natsClient, invoker)
	if err := worker.Run(); err != nil {
		log.Fatalf("failed to start worker: %v", err)
	}

	log.Printf("NeonChat assistant worker running")
	log.Printf("  nats_url: %s", natsConfig.URL)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()
}
