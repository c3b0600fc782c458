package orders

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/orderledger/internal/domain"
	"github.com/aristath/orderledger/internal/modules/ledger"
)

// AuthFunc resolves the caller identity for a request.
type AuthFunc func(r *http.Request) (*domain.User, error)

// Handlers exposes the order lifecycle controller over HTTP.
type Handlers struct {
	svc     *Service
	repo    *ledger.Repository
	auth    AuthFunc
	devMode bool
	log     zerolog.Logger
}

// NewHandlers constructs the REST surface for order placement.
func NewHandlers(svc *Service, repo *ledger.Repository, auth AuthFunc, devMode bool, log zerolog.Logger) *Handlers {
	return &Handlers{svc: svc, repo: repo, auth: auth, devMode: devMode, log: log.With().Str("component", "orders_api").Logger()}
}

// Register mounts the order endpoints.
func (h *Handlers) Register(r chi.Router) {
	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/", h.handlePlace)
		r.Get("/{id}", h.handleGet)
		r.Post("/{id}/cancel", h.handleCancel)
	})
}

type placeOrderBody struct {
	ClientID   int64            `json:"client_id"`
	Symbol     string           `json:"symbol"`
	Side       domain.Side      `json:"side"`
	Quantity   int64            `json:"quantity"`
	Product    domain.Product   `json:"product"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
}

func (h *Handlers) handlePlace(w http.ResponseWriter, r *http.Request) {
	trader, err := h.auth(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var body placeOrderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.svc.PlaceOrder(r.Context(), PlaceOrderRequest{
		TraderID: trader.ID, ClientID: body.ClientID, Symbol: body.Symbol,
		Quantity: body.Quantity, Side: body.Side, Product: body.Product,
		LimitPrice: body.LimitPrice, DevModeSkip: h.devMode,
	})
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *Handlers) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	order, err := h.repo.GetOrder(h.svc.db, id)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handlers) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	order, err := h.svc.Cancel(r.Context(), id)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeKindError maps a normalized domain error to its HTTP status.
func writeKindError(w http.ResponseWriter, err error) {
	switch domain.KindOf(err) {
	case domain.KindInsufficientFunds, domain.KindInsufficientHoldings, domain.KindInvalidPrice, domain.KindInvalidQuantity:
		writeError(w, http.StatusBadRequest, err.Error())
	case domain.KindNotAuthorized:
		writeError(w, http.StatusForbidden, err.Error())
	case domain.KindNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case domain.KindSessionError:
		writeError(w, http.StatusUnauthorized, err.Error())
	case domain.KindRateLimit:
		writeError(w, http.StatusTooManyRequests, err.Error())
	case domain.KindTemporaryError:
		writeError(w, http.StatusBadGateway, err.Error())
	case domain.KindPermanentError:
		writeError(w, http.StatusBadRequest, err.Error())
	case domain.KindInvariantViolation:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
