package ws

import (
	"log"
	"time"
)

// HeartbeatConfig controls the server-side liveness check.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping all connections
	Timeout  time.Duration // grace period after Interval before eviction
}

// DefaultHeartbeatConfig returns the standard heartbeat timing.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// StartHeartbeat launches a background goroutine that periodically pings all
// connections and evicts those that have gone silent. Eviction goes through
// Server.RemoveConnection, so the room coordinator's leave cleanup runs the
// same as for an explicit disconnect.
func StartHeartbeat(s *Server, config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				sweep(s, config)
			}
		}
	}()
}

// sweep pings every connection and removes those whose last activity is
// older than Interval+Timeout. A failed ping write means the peer is
// already gone.
func sweep(s *Server, config HeartbeatConfig) {
	deadline := time.Now().Add(-(config.Interval + config.Timeout))
	evicted := 0

	for _, c := range s.conns.All() {
		if c.LastActive().Before(deadline) {
			log.Printf("ws: evicting stale connection conn=%s (last active %s)",
				c.ID(), c.LastActive().Format(time.RFC3339))
			s.RemoveConnection(c)
			evicted++
			continue
		}

		if err := c.WritePing(); err != nil {
			log.Printf("ws: ping failed for conn %s: %v", c.ID(), err)
			s.RemoveConnection(c)
			evicted++
		}
	}

	if evicted > 0 {
		log.Printf("ws: heartbeat sweep evicted %d connection(s)", evicted)
	}
}
