// Package realtime fans order lifecycle events out to connected WebSocket
// clients. It bridges the in-process event bus (internal/events) to
// per-client bounded queues so a slow reader can never block the
// publisher, mirroring the non-blocking-channel-send idiom the teacher
// uses for its own event stream.
package realtime

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/orderledger/internal/events"
)

// clientEventTypes are the topics forwarded to WebSocket clients; anything
// else published on the bus (audit-only bookkeeping, say) stays internal.
var clientEventTypes = map[string]bool{
	"order.new":    true,
	"order.fill":   true,
	"order.cancel": true,
}

const queueDepth = 64

// Hub tracks one outbound queue per connected client (keyed by user id) and
// subscribes once to the event bus, routing each event to the queues of
// whichever client it names.
type Hub struct {
	mu     sync.Mutex
	queues map[int64][]chan events.Event
	log    zerolog.Logger
}

// NewHub constructs a Hub and subscribes it to bus immediately.
func NewHub(bus *events.Bus, log zerolog.Logger) *Hub {
	h := &Hub{
		queues: make(map[int64][]chan events.Event),
		log:    log.With().Str("component", "realtime_hub").Logger(),
	}
	bus.Subscribe(events.Wildcard, h.route)
	return h
}

func (h *Hub) route(event events.Event) {
	if !clientEventTypes[event.Topic] {
		return
	}
	userID, ok := event.UserID()
	if !ok {
		return
	}

	h.mu.Lock()
	queues := append([]chan events.Event(nil), h.queues[userID]...)
	h.mu.Unlock()

	for _, q := range queues {
		select {
		case q <- event:
		default:
			h.log.Warn().Int64("user_id", userID).Str("topic", event.Topic).Msg("client queue full, dropping event")
		}
	}
}

// Register allocates a bounded queue for userID and returns it along with
// an unregister func the caller must invoke when the connection closes.
func (h *Hub) Register(userID int64) (chan events.Event, func()) {
	q := make(chan events.Event, queueDepth)

	h.mu.Lock()
	h.queues[userID] = append(h.queues[userID], q)
	h.mu.Unlock()

	unregister := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		list := h.queues[userID]
		for i, existing := range list {
			if existing == q {
				h.queues[userID] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(h.queues[userID]) == 0 {
			delete(h.queues, userID)
		}
		close(q)
	}
	return q, unregister
}
