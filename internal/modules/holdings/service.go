// Package holdings implements the pure cash/position operations every
// other service in the ledger composes: buying and selling adjust a
// holding's quantity and weighted-average cost, while reserve/release move
// money or quantity between "available" and "blocked" without ever
// deciding on their own whether a trade should happen. Callers run these
// inside the transaction that also writes the audit trail.
package holdings

import (
	"database/sql"

	"github.com/shopspring/decimal"

	"github.com/aristath/orderledger/internal/domain"
	"github.com/aristath/orderledger/internal/modules/ledger"
)

// execer mirrors ledger.Repository's execer interface.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// Service operates on holdings and user cash fields. It never itself opens
// a transaction — every method is expected to be called from inside one
// owned by a higher-level service (orders, fills).
type Service struct {
	repo *ledger.Repository
}

// New constructs a Service bound to the ledger repository.
func New(repo *ledger.Repository) *Service {
	return &Service{repo: repo}
}

// ApplyBuy increases (or creates) a holding by qty at price, recomputing
// the weighted-average cost. price must be strictly positive. Never
// touches cash — the caller is responsible for any cash debit.
func (s *Service) ApplyBuy(exec execer, userID int64, symbol string, qty int64, price decimal.Decimal) error {
	if qty <= 0 {
		return domain.InvalidQuantity(qty)
	}
	if !price.IsPositive() {
		return domain.InvalidPrice(price)
	}

	h, err := s.repo.GetHolding(exec, userID, symbol)
	if err != nil {
		return err
	}
	if h == nil {
		h = &domain.Holding{UserID: userID, Symbol: symbol}
	}

	newQty := h.Quantity + qty
	totalCostBefore := h.AvgPrice.Mul(decimal.NewFromInt(h.Quantity))
	totalCostNew := price.Mul(decimal.NewFromInt(qty))
	if newQty > 0 {
		h.AvgPrice = domain.RoundPrice(totalCostBefore.Add(totalCostNew).Div(decimal.NewFromInt(newQty)))
	}
	h.Quantity = newQty

	return s.repo.UpsertHolding(exec, h)
}

// ValidateSell checks that userID holds at least qty of symbol free
// (unreserved), without mutating anything.
func (s *Service) ValidateSell(exec execer, userID int64, symbol string, qty int64) error {
	if qty <= 0 {
		return domain.InvalidQuantity(qty)
	}
	h, err := s.repo.GetHolding(exec, userID, symbol)
	if err != nil {
		return err
	}
	if h == nil {
		return domain.InsufficientHoldings(symbol, 0, qty)
	}
	if h.FreeQty() < qty {
		return domain.InsufficientHoldings(symbol, h.FreeQty(), qty)
	}
	return nil
}

// ApplySell decrements a holding's quantity by qty, deleting the row when
// it reaches zero. avg_price is preserved as the realized-PnL cost basis
// until deletion. Never touches cash or reserved_qty.
func (s *Service) ApplySell(exec execer, userID int64, symbol string, qty int64) error {
	if qty <= 0 {
		return domain.InvalidQuantity(qty)
	}
	h, err := s.repo.GetHolding(exec, userID, symbol)
	if err != nil {
		return err
	}
	if h == nil || h.Quantity < qty {
		have := int64(0)
		if h != nil {
			have = h.Quantity
		}
		return domain.InsufficientHoldings(symbol, have, qty)
	}

	h.Quantity -= qty
	if h.Quantity <= 0 {
		return s.repo.DeleteHolding(exec, userID, symbol)
	}
	return s.repo.UpsertHolding(exec, h)
}

// ReserveFunds moves amount from cash_available to cash_blocked.
func (s *Service) ReserveFunds(exec execer, user *domain.User, amount decimal.Decimal) error {
	amount = domain.RoundCash(amount)
	if user.CashAvailable.LessThan(amount) {
		return domain.InsufficientFunds(user.CashAvailable, amount)
	}
	user.CashAvailable = domain.RoundCash(user.CashAvailable.Sub(amount))
	user.CashBlocked = domain.RoundCash(user.CashBlocked.Add(amount))
	return s.repo.UpdateUserCash(exec, user.ID, user.CashAvailable, user.CashBlocked)
}

// ReleaseFunds moves amount from cash_blocked back to cash_available,
// clamping cash_blocked at zero if a rounding residue would drive it
// negative.
func (s *Service) ReleaseFunds(exec execer, user *domain.User, amount decimal.Decimal) error {
	amount = domain.RoundCash(amount)
	user.CashBlocked = domain.ClampNonNegative(domain.RoundCash(user.CashBlocked.Sub(amount)))
	user.CashAvailable = domain.RoundCash(user.CashAvailable.Add(amount))
	return s.repo.UpdateUserCash(exec, user.ID, user.CashAvailable, user.CashBlocked)
}

// ReserveHoldings increments reserved_qty on h by qty, failing if the free
// quantity is insufficient. Persists the updated holding.
func (s *Service) ReserveHoldings(exec execer, h *domain.Holding, qty int64) error {
	if h.FreeQty() < qty {
		return domain.InsufficientHoldings(h.Symbol, h.FreeQty(), qty)
	}
	h.ReservedQty += qty
	return s.repo.UpsertHolding(exec, h)
}

// ReleaseHoldings decrements reserved_qty on h by qty, clamped at zero.
func (s *Service) ReleaseHoldings(exec execer, h *domain.Holding, qty int64) error {
	h.ReservedQty -= qty
	if h.ReservedQty < 0 {
		h.ReservedQty = 0
	}
	return s.repo.UpsertHolding(exec, h)
}
