package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/orderledger/internal/domain"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 5 * time.Second
)

// AuthFunc resolves the caller of a request into the authenticated user
// allowed to open a socket, or an error if the request isn't authenticated.
type AuthFunc func(r *http.Request) (*domain.User, error)

// Handler upgrades /ws/client/{client_id} into a WebSocket connection and
// streams that client's order events for as long as the socket stays open.
type Handler struct {
	hub  *Hub
	auth AuthFunc
	log  zerolog.Logger
}

// NewHandler constructs the WebSocket handler.
func NewHandler(hub *Hub, auth AuthFunc, log zerolog.Logger) *Handler {
	return &Handler{hub: hub, auth: auth, log: log.With().Str("component", "realtime_ws").Logger()}
}

// Register mounts the client WebSocket route.
func (h *Handler) Register(r chi.Router) {
	r.Get("/ws/client/{client_id}", h.ServeHTTP)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID, err := strconv.ParseInt(chi.URLParam(r, "client_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid client_id", http.StatusBadRequest)
		return
	}

	user, err := h.auth(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if user.ID != clientID && user.Role != domain.RoleTrader {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "closing")

	queue, unregister := h.hub.Register(clientID)
	defer unregister()

	ctx := r.Context()
	h.writeJSON(ctx, conn, map[string]interface{}{"event": "connection_ack", "client_id": clientID})

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-queue:
			if !ok {
				return
			}
			payload := map[string]interface{}{"event": ev.Topic}
			for k, v := range ev.Payload {
				payload[k] = v
			}
			if err := h.writeJSON(ctx, conn, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := h.writeJSON(ctx, conn, map[string]interface{}{"event": "ping"}); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeJSON(ctx context.Context, conn *websocket.Conn, payload map[string]interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
