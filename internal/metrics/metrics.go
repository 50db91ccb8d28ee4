// Package metrics provides Prometheus instrumentation for NeonChat. It
// exposes gauges for connection and room counts, counters for message
// throughput, and a histogram for broadcast fan-out latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "neonchat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// RoomsTotal tracks the number of rooms that have ever been joined.
	RoomsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "neonchat_rooms_total",
		Help: "Number of rooms known to the coordinator",
	})

	// MessagesTotal counts messages processed, labeled by path:
	// "accepted", "delivered", "dropped", or "polled".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "neonchat_messages_total",
		Help: "Total number of messages processed",
	}, []string{"path"})

	// BroadcastLatency records room fan-out latency in seconds.
	BroadcastLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "neonchat_broadcast_latency_seconds",
		Help:    "Room broadcast fan-out latency in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		RoomsTotal,
		MessagesTotal,
		BroadcastLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
