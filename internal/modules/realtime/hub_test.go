package realtime

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/orderledger/internal/events"
)

func TestHubRoutesEventToRegisteredClient(t *testing.T) {
	bus := events.New(zerolog.Nop())
	hub := NewHub(bus, zerolog.Nop())

	queue, unregister := hub.Register(42)
	defer unregister()

	bus.Publish("order.new", map[string]interface{}{"user_id": int64(42), "order_id": int64(1)})

	select {
	case ev := <-queue:
		require.Equal(t, "order.new", ev.Topic)
		require.Equal(t, int64(1), ev.Payload["order_id"])
	case <-time.After(time.Second):
		t.Fatal("expected event was not delivered")
	}
}

func TestHubIgnoresEventsForOtherClients(t *testing.T) {
	bus := events.New(zerolog.Nop())
	hub := NewHub(bus, zerolog.Nop())

	queue, unregister := hub.Register(1)
	defer unregister()

	bus.Publish("order.new", map[string]interface{}{"user_id": int64(2)})

	select {
	case <-queue:
		t.Fatal("event for a different client must not be delivered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubIgnoresNonClientTopics(t *testing.T) {
	bus := events.New(zerolog.Nop())
	hub := NewHub(bus, zerolog.Nop())

	queue, unregister := hub.Register(1)
	defer unregister()

	bus.Publish("internal.audit", map[string]interface{}{"user_id": int64(1)})

	select {
	case <-queue:
		t.Fatal("non-client topic must not be forwarded")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubUnregisterClosesQueue(t *testing.T) {
	bus := events.New(zerolog.Nop())
	hub := NewHub(bus, zerolog.Nop())

	queue, unregister := hub.Register(1)
	unregister()

	_, ok := <-queue
	require.False(t, ok)
}
