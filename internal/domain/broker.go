package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderType is the broker-facing order type, separate from Product: a
// MARKET order carries no reference Price, a LIMIT order always does.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// PlaceOrderRequest is what the order lifecycle controller hands to a
// broker adapter. It never carries ledger identifiers the vendor doesn't
// need to see.
type PlaceOrderRequest struct {
	UserID        int64
	Symbol        string
	Side          Side
	Quantity      int64
	OrderType     OrderType
	Price         *decimal.Decimal
	Product       Product
	ClientOrderID string
}

// PlaceOrderResult is the adapter's normalized view of a vendor's order
// acknowledgement.
type PlaceOrderResult struct {
	Status        OrderStatus
	BrokerOrderID string
	PlacedQty     int64
	FilledQty     int64
	AvgFillPrice  decimal.Decimal
	Raw           map[string]interface{}
}

// SessionStatus is the outcome of a session probe/refresh.
type SessionStatus struct {
	OK        bool
	Refreshed bool
	Reason    string
}

// BrokerAdapter is implemented once per vendor. Adapters never touch the
// ledger; they translate between the vendor's wire contract and the
// normalized types above, and they translate vendor failures into the
// Kind taxonomy in errors.go.
type BrokerAdapter interface {
	EnsureSession(ctx context.Context, user *User) (SessionStatus, error)
	PlaceOrder(ctx context.Context, user *User, req PlaceOrderRequest) (PlaceOrderResult, error)
	CancelOrder(ctx context.Context, user *User, brokerOrderID string) error
	GetOrderStatus(ctx context.Context, user *User, brokerOrderID string) (PlaceOrderResult, error)
}
