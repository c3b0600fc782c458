package webhook

import (
	"database/sql"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/orderledger/internal/database"
	"github.com/aristath/orderledger/internal/domain"
	"github.com/aristath/orderledger/internal/modules/fills"
	"github.com/aristath/orderledger/internal/modules/ledger"
)

// fillEvent mirrors the broker's fill delivery payload.
type fillEvent struct {
	OrderID      int64   `json:"order_id"`
	Quantity     int64   `json:"quantity"`
	Price        float64 `json:"price"`
	BrokerFillID string  `json:"broker_fill_id"`
}

// cancelEvent mirrors the broker's cancel/reject delivery payload.
type cancelEvent struct {
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
}

// SecretSource supplies the current list of accepted HMAC secrets,
// primary first. Reading it per-request picks up a secret rotated via the
// settings store without a restart.
type SecretSource func() []string

// Handlers wires the broker fill/cancel ingress into chi routes.
type Handlers struct {
	db      *sql.DB
	repo    *ledger.Repository
	fills   *fills.Service
	secrets SecretSource
	log     zerolog.Logger
}

// NewHandlers constructs the webhook HTTP handlers.
func NewHandlers(db *sql.DB, repo *ledger.Repository, fillSvc *fills.Service, secrets SecretSource, log zerolog.Logger) *Handlers {
	return &Handlers{db: db, repo: repo, fills: fillSvc, secrets: secrets, log: log.With().Str("component", "webhook").Logger()}
}

// Register mounts the /broker/fill and /broker/cancel routes.
func (h *Handlers) Register(r chi.Router) {
	r.Post("/broker/fill", h.HandleFill)
	r.Post("/broker/cancel", h.HandleCancel)
}

func (h *Handlers) verify(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "could not read request body")
		return nil, false
	}

	if algo := r.Header.Get(AlgoHeader); algo != "" && algo != ExpectedAlgo {
		h.writeError(w, http.StatusBadRequest, "unsupported signature algorithm")
		return nil, false
	}

	provided := r.Header.Get(SignatureHeader)
	if provided == "" {
		h.writeError(w, http.StatusUnauthorized, "missing signature header")
		return nil, false
	}

	if !VerifySignature(body, provided, h.secrets()) {
		h.writeError(w, http.StatusUnauthorized, "invalid signature")
		return nil, false
	}
	return body, true
}

// HandleFill applies a broker fill delivery. A duplicate broker_fill_id is
// reported as a 200 with status IGNORED, matching the idempotent-success
// contract the broker expects on redelivery.
func (h *Handlers) HandleFill(w http.ResponseWriter, r *http.Request) {
	body, ok := h.verify(w, r)
	if !ok {
		return
	}

	var event fillEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed fill payload")
		return
	}

	var order *domain.Order
	err := database.WithTransaction(h.db, func(tx *sql.Tx) error {
		if err := h.fills.ApplyFill(tx, event.OrderID, event.Quantity, decimalFromFloat(event.Price), event.BrokerFillID); err != nil {
			return err
		}
		o, err := h.repo.GetOrder(tx, event.OrderID)
		if err != nil {
			return err
		}
		order = o
		return nil
	})

	if domain.KindOf(err) == domain.KindFillAlreadyApplied {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "IGNORED", "reason": "duplicate"})
		return
	}
	if err != nil {
		h.log.Warn().Err(err).Int64("order_id", event.OrderID).Msg("fill webhook rejected")
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": string(order.Status), "filled_qty": order.FilledQty, "avg_fill_price": order.AvgFillPrice.String(),
	})
}

// HandleCancel applies a broker cancel/reject delivery. Already-terminal
// orders return their current status with idempotent=true rather than an
// error, since a broker may redeliver a terminal transition.
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	body, ok := h.verify(w, r)
	if !ok {
		return
	}

	var event cancelEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed cancel payload")
		return
	}

	status := domain.OrderStatus(event.Status)
	if status != domain.OrderStatusCancelled && status != domain.OrderStatusRejected {
		h.writeError(w, http.StatusBadRequest, "status must be CANCELLED or REJECTED")
		return
	}

	existing, err := h.repo.GetOrder(h.db, event.OrderID)
	if domain.KindOf(err) == domain.KindNotFound {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if existing.Status.IsTerminal() {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"status": string(existing.Status), "idempotent": true})
		return
	}

	var order *domain.Order
	err = database.WithTransaction(h.db, func(tx *sql.Tx) error {
		if err := h.fills.ApplyCancel(tx, event.OrderID, status); err != nil {
			return err
		}
		o, err := h.repo.GetOrder(tx, event.OrderID)
		if err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		h.log.Warn().Err(err).Int64("order_id", event.OrderID).Msg("cancel webhook rejected")
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"status": string(order.Status), "idempotent": false})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("failed to encode webhook response")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]interface{}{"error": message})
}

// decimalFromFloat converts a webhook's JSON float price into a Decimal.
// The wire format carries prices as JSON numbers; everything downstream of
// this boundary is fixed-point.
func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
