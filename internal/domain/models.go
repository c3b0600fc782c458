package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role distinguishes a trader (who places orders on behalf of clients) from
// a client (whose cash and holdings the ledger tracks).
type Role string

const (
	RoleTrader Role = "trader"
	RoleClient Role = "client"
)

// User is an account in the ledger. Traders and clients share the same
// table; only clients carry meaningful cash/holdings balances, but the
// fields are present on both so a trader can also hold a personal book.
type User struct {
	ID              int64
	Name            string
	Email           string
	Role            Role
	Broker          string // vendor selector, e.g. "zerodha", "groww", "upstox"
	SessionID       string
	RefreshToken    string
	CashAvailable   decimal.Decimal
	CashBlocked     decimal.Decimal
	CreatedAt       time.Time
	SessionUpdated  time.Time
}

// TraderClient records that a trader is authorized to place orders on
// behalf of a client. The pair is unique.
type TraderClient struct {
	ID        int64
	TraderID  int64
	ClientID  int64
	CreatedAt time.Time
}

// Holding is a user's position in a symbol. Zero-quantity holdings are
// deleted rather than kept around with a zero row.
type Holding struct {
	ID          int64
	UserID      int64
	Symbol      string
	Quantity    int64
	ReservedQty int64
	AvgPrice    decimal.Decimal
	LastUpdated time.Time
}

// FreeQty is the portion of the holding not earmarked against an open sell.
func (h *Holding) FreeQty() int64 {
	return h.Quantity - h.ReservedQty
}

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Product distinguishes a plain equity delivery order from a leveraged
// margin-trade-funding order.
type Product string

const (
	ProductEquity Product = "equity"
	ProductMTF    Product = "mtf"
)

// OrderStatus is a node in the order lifecycle state machine.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusAccepted        OrderStatus = "ACCEPTED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// IsTerminal reports whether status accepts no further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Order is a single buy or sell request routed to a broker.
type Order struct {
	ID            int64
	UserID        int64
	Symbol        string
	Quantity      int64
	Price         *decimal.Decimal // nil for a MARKET order with no reference price
	Side          Side
	Product       Product
	Status        OrderStatus
	FilledQty     int64
	AvgFillPrice  decimal.Decimal
	BrokerOrderID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RemainingQty is the quantity not yet accounted for by a fill.
func (o *Order) RemainingQty() int64 {
	return o.Quantity - o.FilledQty
}

// OrderFill is a single execution report against an order. BrokerFillID,
// when present, is the idempotency key for webhook replay.
type OrderFill struct {
	ID           int64
	OrderID      int64
	BrokerFillID string // empty means "not provided"
	Quantity     int64
	Price        decimal.Decimal
	CreatedAt    time.Time
}

// AuditAction enumerates the audit actions the ledger appends. Keeping
// these as a closed set makes canonical-payload hashing reproducible.
type AuditAction string

const (
	AuditOrderAccepted   AuditAction = "ORDER_ACCEPTED"
	AuditOrderCancelled  AuditAction = "ORDER_CANCELLED"
	AuditOrderRejected   AuditAction = "ORDER_REJECTED"
	AuditFillApplied     AuditAction = "FILL_APPLIED"
	AuditFundsDebit      AuditAction = "FUNDS_DEBIT"
	AuditFundsCredit     AuditAction = "FUNDS_CREDIT"
	AuditHoldingsReserve AuditAction = "HOLDINGS_RESERVED"
	AuditHoldingsRelease AuditAction = "HOLDINGS_RELEASED"
)

// AuditLog is one link in the hash chain. Hash and PrevHash are computed by
// the audit package, never set directly by callers.
type AuditLog struct {
	ID          int64
	ActorID     int64
	TargetID    int64
	Action      AuditAction
	Description string
	Details     map[string]interface{}
	CreatedAt   time.Time
	TsISO       string // RFC3339Nano timestamp that was actually hashed; created_at truncates to the second
	PrevHash    string // empty for the first row in the chain
	Hash        string
}

// PortfolioSnapshot is a daily rollup of a client's balances and PnL.
type PortfolioSnapshot struct {
	ID            int64
	UserID        int64
	SnapshotDate  string // YYYY-MM-DD
	CashAvailable decimal.Decimal
	CashBlocked   decimal.Decimal
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Holdings      []SnapshotHolding
	CreatedAt     time.Time
}

// SnapshotHolding is one line of a PortfolioSnapshot's holdings list.
type SnapshotHolding struct {
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	MarketPrice   decimal.Decimal `json:"market_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}
