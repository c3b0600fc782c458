// Package orders implements the order lifecycle controller: the entry
// point that validates a placement request, reserves funds or holdings,
// calls out to the broker adapter, and records the outcome. It is the only
// package that talks to both the broker boundary and the ledger's
// transactional state in the same call.
package orders

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/orderledger/internal/database"
	"github.com/aristath/orderledger/internal/domain"
	"github.com/aristath/orderledger/internal/events"
	"github.com/aristath/orderledger/internal/modules/audit"
	"github.com/aristath/orderledger/internal/modules/fills"
	"github.com/aristath/orderledger/internal/modules/holdings"
	"github.com/aristath/orderledger/internal/modules/ledger"
)

// BrokerFactory resolves the adapter for a user's configured vendor.
// Satisfied by *broker.Factory; declared here so tests can substitute a
// scripted adapter without a network-capable client.
type BrokerFactory interface {
	For(user *domain.User) (domain.BrokerAdapter, error)
}

// PlaceOrderRequest is what a caller (webhook-adjacent HTTP handler, or a
// future CLI) hands to the controller.
type PlaceOrderRequest struct {
	TraderID    int64
	ClientID    int64
	Symbol      string
	Quantity    int64
	Side        domain.Side
	Product     domain.Product
	LimitPrice  *decimal.Decimal
	DevModeSkip bool // allows an unmapped trader/client pair when DEBUG is set
}

// Service is the order lifecycle controller.
type Service struct {
	db       *sql.DB
	repo     *ledger.Repository
	holdings *holdings.Service
	fills    *fills.Service
	audit    *audit.Logger
	brokers  BrokerFactory
	bus      *events.Bus
	log      zerolog.Logger
}

// New constructs the order lifecycle controller.
func New(db *sql.DB, repo *ledger.Repository, h *holdings.Service, f *fills.Service, auditLogger *audit.Logger, brokers BrokerFactory, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		db: db, repo: repo, holdings: h, fills: f, audit: auditLogger, brokers: brokers, bus: bus,
		log: log.With().Str("component", "order_controller").Logger(),
	}
}

// PlaceOrder validates the request, reserves funds or holdings, places the
// order with the client's broker, and records the acceptance. The broker
// round trip happens outside any open transaction; the two transactional
// phases around it (pre-checks, then persistence) never hold a DB lock
// while waiting on the network.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*domain.Order, error) {
	if req.Quantity <= 0 {
		return nil, domain.InvalidQuantity(req.Quantity)
	}

	var client *domain.User
	var estCost decimal.Decimal
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		if !req.DevModeSkip {
			authorized, err := s.repo.TraderManagesClient(tx, req.TraderID, req.ClientID)
			if err != nil {
				return err
			}
			if !authorized {
				return domain.NotAuthorized(req.TraderID, req.ClientID)
			}
		}

		c, err := s.repo.GetUser(tx, req.ClientID)
		if err != nil {
			return err
		}
		client = c

		if req.Side == domain.SideBuy && req.LimitPrice != nil {
			estCost = domain.RoundCash(req.LimitPrice.Mul(decimal.NewFromInt(req.Quantity)))
			if client.CashAvailable.LessThan(estCost) {
				return domain.InsufficientFunds(client.CashAvailable, estCost)
			}
		}
		if req.Side == domain.SideSell {
			if err := s.holdings.ValidateSell(tx, req.ClientID, req.Symbol, req.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	adapter, err := s.brokers.For(client)
	if err != nil {
		return nil, err
	}

	orderType := domain.OrderTypeMarket
	if req.LimitPrice != nil {
		orderType = domain.OrderTypeLimit
	}
	// A fresh idempotency key per placement attempt lets the vendor reject a
	// duplicate submission if this call is retried at a layer above us.
	clientOrderID := uuid.NewString()
	result, err := adapter.PlaceOrder(ctx, client, domain.PlaceOrderRequest{
		UserID: req.ClientID, Symbol: req.Symbol, Side: req.Side, Quantity: req.Quantity,
		OrderType: orderType, Price: req.LimitPrice, Product: req.Product, ClientOrderID: clientOrderID,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", req.Symbol).Msg("broker rejected order placement")
		return nil, err
	}

	var order *domain.Order
	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		order = &domain.Order{
			UserID: req.ClientID, Symbol: req.Symbol, Quantity: req.Quantity, Price: req.LimitPrice,
			Side: req.Side, Product: req.Product, Status: domain.OrderStatusAccepted, BrokerOrderID: result.BrokerOrderID,
		}
		if _, err := s.repo.CreateOrder(tx, order); err != nil {
			return err
		}

		if req.Side == domain.SideBuy && req.LimitPrice != nil {
			if err := s.holdings.ReserveFunds(tx, client, estCost); err != nil {
				return err
			}
			if err := s.audit.Log(tx, req.TraderID, req.ClientID, domain.AuditFundsDebit, "order reservation", map[string]interface{}{
				"order_id": order.ID, "amount": estCost.String(),
			}); err != nil {
				return err
			}
		} else if req.Side == domain.SideSell {
			h, err := s.repo.GetHolding(tx, req.ClientID, req.Symbol)
			if err != nil {
				return err
			}
			if h == nil || h.FreeQty() < req.Quantity {
				return domain.InsufficientHoldings(req.Symbol, 0, req.Quantity)
			}
			if err := s.holdings.ReserveHoldings(tx, h, req.Quantity); err != nil {
				return err
			}
			if err := s.audit.Log(tx, req.TraderID, req.ClientID, domain.AuditHoldingsReserve, "order reservation", map[string]interface{}{
				"order_id": order.ID, "qty": req.Quantity,
			}); err != nil {
				return err
			}
		}

		return s.audit.Log(tx, req.TraderID, req.ClientID, domain.AuditOrderAccepted, "order accepted", map[string]interface{}{
			"order_id": order.ID, "broker_order_id": result.BrokerOrderID, "symbol": req.Symbol, "qty": req.Quantity,
		})
	})
	if err != nil {
		return nil, err
	}

	if s.bus != nil {
		s.bus.Publish("order.new", map[string]interface{}{
			"order_id": order.ID, "user_id": req.ClientID, "symbol": req.Symbol, "qty": req.Quantity,
			"status": string(order.Status), "cash_available": client.CashAvailable.String(), "cash_blocked": client.CashBlocked.String(),
		})
	}
	return order, nil
}

// Cancel requests cancellation of orderID through the broker, then applies
// the cancellation to the ledger. Idempotent: a cancel against an
// already-terminal order succeeds without changing anything.
func (s *Service) Cancel(ctx context.Context, orderID int64) (*domain.Order, error) {
	order, err := s.repo.GetOrder(s.db, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return order, nil
	}

	client, err := s.repo.GetUser(s.db, order.UserID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.brokers.For(client)
	if err != nil {
		return nil, err
	}
	if order.BrokerOrderID != "" {
		if err := adapter.CancelOrder(ctx, client, order.BrokerOrderID); err != nil && domain.KindOf(err) != domain.KindPermanentError {
			return nil, err
		}
	}

	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		return s.fills.ApplyCancel(tx, orderID, domain.OrderStatusCancelled)
	})
	if err != nil {
		return nil, err
	}

	cancelled, err := s.repo.GetOrder(s.db, orderID)
	if err != nil {
		return nil, err
	}
	if s.bus != nil {
		s.bus.Publish("order.cancel.trader", map[string]interface{}{
			"order_id": orderID, "user_id": cancelled.UserID, "status": string(cancelled.Status),
		})
	}
	return cancelled, nil
}
