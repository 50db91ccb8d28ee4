package room

import (
	"time"

	"github.com/neonchat/neonchat/internal/metrics"
)

// fanOut delivers data to every member except the excluded connection, if
// any. Delivery is best-effort per recipient: a failed send (typically a
// connection that died mid-broadcast) is counted and skipped without
// affecting the other recipients or surfacing an error to the sender. The
// dead connection is cleaned up by the transport layer's own read/heartbeat
// path. There is no retry and no cross-room ordering guarantee; within a
// room the caller holds the room lock, so members observe broadcasts in
// acceptance order.
func fanOut(members map[string]Sender, data []byte, exclude string) {
	start := time.Now()
	for id, conn := range members {
		if id == exclude {
			continue
		}
		if err := conn.Send(data); err != nil {
			metrics.MessagesTotal.WithLabelValues("dropped").Inc()
			continue
		}
		metrics.MessagesTotal.WithLabelValues("delivered").Inc()
	}
	metrics.BroadcastLatency.Observe(time.Since(start).Seconds())
}
