// Package fills applies broker execution reports against an order: the
// quantity/price bookkeeping, cash and holdings settlement, and the audit
// trail that goes with each. It also answers the read-side realized-PnL
// query with a FIFO walk over a user's fill history.
package fills

import (
	"database/sql"

	"github.com/shopspring/decimal"

	"github.com/aristath/orderledger/internal/domain"
	"github.com/aristath/orderledger/internal/events"
	"github.com/aristath/orderledger/internal/modules/audit"
	"github.com/aristath/orderledger/internal/modules/holdings"
	"github.com/aristath/orderledger/internal/modules/ledger"
)

// execer mirrors ledger.Repository's execer interface.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// Service applies fills and cancellations to orders. Every mutating method
// must be called from inside the transaction the caller opened.
type Service struct {
	repo     *ledger.Repository
	holdings *holdings.Service
	audit    *audit.Logger
	bus      *events.Bus
}

// New constructs a fill Service.
func New(repo *ledger.Repository, h *holdings.Service, auditLogger *audit.Logger, bus *events.Bus) *Service {
	return &Service{repo: repo, holdings: h, audit: auditLogger, bus: bus}
}

// ApplyFill records one broker execution report against orderID. A
// brokerFillID, when present, makes the call idempotent: a repeat delivery
// of the same fill changes nothing and returns a FillAlreadyApplied error
// rather than applying the fill twice.
func (s *Service) ApplyFill(exec execer, orderID int64, qty int64, price decimal.Decimal, brokerFillID string) error {
	order, err := s.repo.GetOrder(exec, orderID)
	if err != nil {
		return err
	}
	if order.Status.IsTerminal() {
		return domain.FillOnTerminal(orderID, order.Status)
	}

	if brokerFillID != "" {
		exists, err := s.repo.FillExists(exec, orderID, brokerFillID)
		if err != nil {
			return err
		}
		if exists {
			return domain.FillAlreadyApplied(orderID, brokerFillID)
		}
	}

	if !price.IsPositive() {
		return domain.InvalidPrice(price)
	}

	applyQty := qty
	if remaining := order.RemainingQty(); applyQty > remaining {
		applyQty = remaining
	}
	if applyQty <= 0 {
		return nil
	}

	if _, err := s.repo.CreateFill(exec, &domain.OrderFill{
		OrderID:      orderID,
		BrokerFillID: brokerFillID,
		Quantity:     applyQty,
		Price:        price,
	}); err != nil {
		return err
	}

	priorFilledValue := order.AvgFillPrice.Mul(decimal.NewFromInt(order.FilledQty))
	thisFillValue := price.Mul(decimal.NewFromInt(applyQty))
	order.FilledQty += applyQty
	order.AvgFillPrice = domain.RoundPrice(priorFilledValue.Add(thisFillValue).Div(decimal.NewFromInt(order.FilledQty)))

	user, err := s.repo.GetUser(exec, order.UserID)
	if err != nil {
		return err
	}
	fillValue := domain.RoundCash(price.Mul(decimal.NewFromInt(applyQty)))

	if order.Side == domain.SideBuy {
		user.CashBlocked = domain.ClampNonNegative(domain.RoundCash(user.CashBlocked.Sub(fillValue)))
		if err := s.repo.UpdateUserCash(exec, user.ID, user.CashAvailable, user.CashBlocked); err != nil {
			return err
		}
		if err := s.holdings.ApplyBuy(exec, order.UserID, order.Symbol, applyQty, price); err != nil {
			return err
		}
		if err := s.audit.Log(exec, order.UserID, order.UserID, domain.AuditFundsDebit, "fill debit", map[string]interface{}{
			"order_id": orderID, "qty": applyQty, "price": price.String(), "amount": fillValue.String(),
		}); err != nil {
			return err
		}
	} else {
		h, err := s.repo.GetHolding(exec, order.UserID, order.Symbol)
		if err != nil {
			return err
		}
		if h == nil || h.Quantity < applyQty {
			return domain.InvariantViolation("sell fill exceeds holding quantity")
		}
		if err := s.holdings.ReleaseHoldings(exec, h, applyQty); err != nil {
			return err
		}
		if err := s.holdings.ApplySell(exec, order.UserID, order.Symbol, applyQty); err != nil {
			return err
		}
		user.CashAvailable = domain.RoundCash(user.CashAvailable.Add(fillValue))
		if err := s.repo.UpdateUserCash(exec, user.ID, user.CashAvailable, user.CashBlocked); err != nil {
			return err
		}
		if err := s.audit.Log(exec, order.UserID, order.UserID, domain.AuditFundsCredit, "fill credit", map[string]interface{}{
			"order_id": orderID, "qty": applyQty, "price": price.String(), "amount": fillValue.String(),
		}); err != nil {
			return err
		}
	}

	if order.FilledQty >= order.Quantity {
		order.Status = domain.OrderStatusFilled
	} else {
		order.Status = domain.OrderStatusPartiallyFilled
	}

	if order.Status == domain.OrderStatusFilled && order.Side == domain.SideBuy && user.CashBlocked.IsPositive() {
		leftover := user.CashBlocked
		user.CashBlocked = domain.Zero
		user.CashAvailable = domain.RoundCash(user.CashAvailable.Add(leftover))
		if err := s.repo.UpdateUserCash(exec, user.ID, user.CashAvailable, user.CashBlocked); err != nil {
			return err
		}
		if err := s.audit.Log(exec, order.UserID, order.UserID, domain.AuditFundsCredit, "fill leftover", map[string]interface{}{
			"order_id": orderID, "amount": leftover.String(),
		}); err != nil {
			return err
		}
	}

	if err := s.repo.UpdateOrder(exec, order); err != nil {
		return err
	}
	if err := s.audit.Log(exec, order.UserID, order.UserID, domain.AuditFillApplied, "fill applied", map[string]interface{}{
		"order_id": orderID, "qty": applyQty, "price": price.String(), "status": string(order.Status),
	}); err != nil {
		return err
	}

	if s.bus != nil {
		s.bus.Publish("order.fill", map[string]interface{}{
			"order_id": order.ID, "user_id": order.UserID, "symbol": order.Symbol,
			"qty": applyQty, "price": price.String(), "filled_qty": order.FilledQty, "status": string(order.Status),
			"cash_available": user.CashAvailable.String(), "cash_blocked": user.CashBlocked.String(),
		})
	}
	return nil
}

// ApplyCancel moves order into a terminal status (CANCELLED or REJECTED),
// releasing whatever the order still has reserved. Idempotent: applying it
// to an already-terminal order returns nil without modifying anything.
func (s *Service) ApplyCancel(exec execer, orderID int64, status domain.OrderStatus) error {
	if status != domain.OrderStatusCancelled && status != domain.OrderStatusRejected {
		return domain.InvariantViolation("apply_cancel requires a terminal status")
	}

	order, err := s.repo.GetOrder(exec, orderID)
	if err != nil {
		return err
	}
	if order.Status.IsTerminal() {
		return nil
	}

	remaining := order.RemainingQty()
	user, err := s.repo.GetUser(exec, order.UserID)
	if err != nil {
		return err
	}

	if order.Side == domain.SideBuy {
		if user.CashBlocked.IsPositive() {
			released := user.CashBlocked
			if err := s.holdings.ReleaseFunds(exec, user, released); err != nil {
				return err
			}
			if err := s.audit.Log(exec, order.UserID, order.UserID, domain.AuditFundsCredit, "cancel release", map[string]interface{}{
				"order_id": orderID, "amount": released.String(),
			}); err != nil {
				return err
			}
		}
	} else if remaining > 0 {
		h, err := s.repo.GetHolding(exec, order.UserID, order.Symbol)
		if err == nil && h != nil {
			releaseQty := remaining
			if releaseQty > h.ReservedQty {
				releaseQty = h.ReservedQty
			}
			if releaseQty > 0 {
				if err := s.holdings.ReleaseHoldings(exec, h, releaseQty); err != nil {
					return err
				}
				if err := s.audit.Log(exec, order.UserID, order.UserID, domain.AuditHoldingsRelease, "cancel release", map[string]interface{}{
					"order_id": orderID, "qty": releaseQty,
				}); err != nil {
					return err
				}
			}
		}
	}

	order.Status = status
	if err := s.repo.UpdateOrder(exec, order); err != nil {
		return err
	}

	action := domain.AuditOrderCancelled
	if status == domain.OrderStatusRejected {
		action = domain.AuditOrderRejected
	}
	if err := s.audit.Log(exec, order.UserID, order.UserID, action, "order "+string(status), nil); err != nil {
		return err
	}

	if s.bus != nil {
		s.bus.Publish("order.cancel", map[string]interface{}{
			"order_id": order.ID, "user_id": order.UserID, "symbol": order.Symbol, "status": string(order.Status),
			"cash_available": user.CashAvailable.String(), "cash_blocked": user.CashBlocked.String(),
		})
	}
	return nil
}

// fifoLot is one open buy lot in the per-symbol FIFO queue.
type fifoLot struct {
	qty   int64
	price decimal.Decimal
}

// RealizedPnL walks the fills in fillsBySymbol (each symbol's list in the
// order given), using sides and symbols to look up each fill's order, and
// matches sell fills against a per-symbol FIFO queue of buy lots. A sell
// that exhausts its symbol's queue treats the unmatched excess as
// zero-basis profit — this ledger does not model short positions.
func RealizedPnL(fillsBySymbol map[string][]*domain.OrderFill, sides map[int64]domain.Side, symbols map[int64]string) decimal.Decimal {
	lots := make(map[string][]fifoLot)
	total := decimal.Zero

	for symbol, fills := range fillsBySymbol {
		for _, f := range fills {
			side := sides[f.OrderID]
			if side == domain.SideBuy {
				lots[symbol] = append(lots[symbol], fifoLot{qty: f.Quantity, price: f.Price})
				continue
			}

			remaining := f.Quantity
			queue := lots[symbol]
			i := 0
			for remaining > 0 && i < len(queue) {
				lot := &queue[i]
				matched := remaining
				if matched > lot.qty {
					matched = lot.qty
				}
				total = total.Add(f.Price.Sub(lot.price).Mul(decimal.NewFromInt(matched)))
				lot.qty -= matched
				remaining -= matched
				if lot.qty == 0 {
					i++
				}
			}
			if remaining > 0 {
				total = total.Add(f.Price.Mul(decimal.NewFromInt(remaining)))
			}
			lots[symbol] = queue[i:]
		}
	}
	return domain.RoundCash(total)
}
