// Package events implements the in-process publish/subscribe bus that
// decouples the order lifecycle, fill, and cancel paths from anything that
// wants to observe them — today that's the realtime WebSocket fan-out, but
// the bus has no knowledge of its subscribers beyond a topic string.
package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// Wildcard subscribes a handler to every published topic.
const Wildcard = "*"

// Event is a single published occurrence. Payload is always expected to
// carry a "user_id" key so downstream routing (e.g. per-client fan-out)
// doesn't need topic-specific unmarshaling.
type Event struct {
	Topic   string
	Payload map[string]interface{}
}

// UserID extracts the user_id field from the payload, if present. It
// accepts both int64 and float64 since payloads may have round-tripped
// through JSON by the time a subscriber inspects them.
func (e Event) UserID() (int64, bool) {
	v, ok := e.Payload["user_id"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// Handler receives a published event. A handler that panics is recovered
// by the bus and logged; it never takes down the publisher.
type Handler func(Event)

// Bus is a topic-based, in-process publish/subscribe dispatcher. The zero
// value is not usable; construct with New.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string][]Handler
	log         zerolog.Logger
}

// New creates an empty Bus.
func New(log zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string][]Handler),
		log:         log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers handler under topic. Passing Wildcard subscribes to
// every topic published from this point forward.
func (b *Bus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], handler)
}

// Publish delivers event to every subscriber of event.Topic plus every
// wildcard subscriber. The subscriber list is copied under lock and
// handlers run outside the lock, so a slow or blocking handler never holds
// up new subscriptions. The topic's own subscribers run first, in
// registration order, then the wildcard subscribers, in registration order;
// the relative registration order of a topic subscriber and a wildcard
// subscriber does not affect delivery order. A handler's panic is
// recovered and logged; it does not stop delivery to the remaining
// subscribers.
func (b *Bus) Publish(topic string, payload map[string]interface{}) {
	event := Event{Topic: topic, Payload: payload}

	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.subscribers[topic])+len(b.subscribers[Wildcard]))
	handlers = append(handlers, b.subscribers[topic]...)
	handlers = append(handlers, b.subscribers[Wildcard]...)
	b.mu.Unlock()

	for _, h := range handlers {
		b.deliver(h, event)
	}
}

func (b *Bus) deliver(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("topic", event.Topic).
				Interface("panic", r).
				Msg("event subscriber panicked")
		}
	}()
	h(event)
}
