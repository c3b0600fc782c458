package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/aristath/orderledger/internal/domain"
)

// zerodhaAdapter targets a Kite-Connect-shaped REST contract: orders are
// placed with tradingsymbol/transaction_type/product/order_type fields and
// acknowledged with an order_id. This is the reference vendor shape; Groww
// and Upstox adapters below reuse it verbatim with a different base URL,
// since all three vendors in this roster expose the same order envelope.
type zerodhaAdapter struct {
	name    string
	baseURL string
	client  *Client
}

// NewZerodhaAdapter constructs the reference vendor adapter.
func NewZerodhaAdapter(client *Client, baseURL string) domain.BrokerAdapter {
	return &zerodhaAdapter{name: "zerodha", baseURL: baseURL, client: client}
}

// NewGrowwAdapter and NewUpstoxAdapter register the other two vendors in
// the roster against the same Kite-shaped contract; a production adapter
// for either would diverge in field names, but the lifecycle and error
// handling are identical, so they're expressed as the same struct.
func NewGrowwAdapter(client *Client, baseURL string) domain.BrokerAdapter {
	return &zerodhaAdapter{name: "groww", baseURL: baseURL, client: client}
}

func NewUpstoxAdapter(client *Client, baseURL string) domain.BrokerAdapter {
	return &zerodhaAdapter{name: "upstox", baseURL: baseURL, client: client}
}

type sessionProbeResponse struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

func (a *zerodhaAdapter) EnsureSession(ctx context.Context, user *domain.User) (domain.SessionStatus, error) {
	url := fmt.Sprintf("%s/session/verify", a.baseURL)
	status, body, err := a.client.DoWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		a.authorize(req, user)
		return req, nil
	})
	if err != nil {
		return domain.SessionStatus{}, err
	}
	if cerr := ClassifyError(status, body, nil); cerr != nil {
		return domain.SessionStatus{}, cerr
	}

	var probe sessionProbeResponse
	if err := decodeJSON(body, &probe); err != nil {
		return domain.SessionStatus{}, domain.PermanentError(err)
	}
	if !probe.OK {
		return domain.SessionStatus{OK: false, Reason: probe.Reason}, domain.SessionError(fmt.Errorf("session probe failed: %s", probe.Reason))
	}
	return domain.SessionStatus{OK: true}, nil
}

type placeOrderWire struct {
	TradingSymbol   string  `json:"tradingsymbol"`
	TransactionType string  `json:"transaction_type"`
	Quantity        int64   `json:"quantity"`
	OrderType       string  `json:"order_type"`
	Price           float64 `json:"price,omitempty"`
	Product         string  `json:"product"`
	Validity        string  `json:"validity"`
	ClientOrderID   string  `json:"client_order_id,omitempty"`
}

type placeOrderWireResponse struct {
	OrderID      string  `json:"order_id"`
	Status       string  `json:"status"`
	FilledQty    int64   `json:"filled_quantity"`
	AvgFillPrice float64 `json:"average_price"`
}

func (a *zerodhaAdapter) PlaceOrder(ctx context.Context, user *domain.User, req domain.PlaceOrderRequest) (domain.PlaceOrderResult, error) {
	wire := placeOrderWire{
		TradingSymbol:   req.Symbol,
		TransactionType: transactionType(req.Side),
		Quantity:        req.Quantity,
		OrderType:       string(req.OrderType),
		Product:         product(req.Product),
		Validity:        "DAY",
		ClientOrderID:   req.ClientOrderID,
	}
	if req.Price != nil {
		wire.Price, _ = req.Price.Float64()
	}

	payload, err := json.Marshal(wire)
	if err != nil {
		return domain.PlaceOrderResult{}, domain.PermanentError(err)
	}

	url := fmt.Sprintf("%s/orders", a.baseURL)
	status, body, err := a.client.DoWithRetry(ctx, func() (*http.Request, error) {
		httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		a.authorize(httpReq, user)
		return httpReq, nil
	})
	if err != nil {
		return domain.PlaceOrderResult{}, err
	}
	if cerr := ClassifyError(status, body, nil); cerr != nil {
		return domain.PlaceOrderResult{}, cerr
	}

	var wireResp placeOrderWireResponse
	if err := decodeJSON(body, &wireResp); err != nil {
		return domain.PlaceOrderResult{}, domain.PermanentError(err)
	}

	return domain.PlaceOrderResult{
		Status:        orderStatus(wireResp.Status),
		BrokerOrderID: wireResp.OrderID,
		PlacedQty:     req.Quantity,
		FilledQty:     wireResp.FilledQty,
		AvgFillPrice:  decimal.NewFromFloat(wireResp.AvgFillPrice),
		Raw:           map[string]interface{}{"order_id": wireResp.OrderID, "status": wireResp.Status},
	}, nil
}

func (a *zerodhaAdapter) CancelOrder(ctx context.Context, user *domain.User, brokerOrderID string) error {
	url := fmt.Sprintf("%s/orders/%s", a.baseURL, brokerOrderID)
	status, body, err := a.client.DoWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodDelete, url, nil)
		if err != nil {
			return nil, err
		}
		a.authorize(req, user)
		return req, nil
	})
	if err != nil {
		return err
	}
	return ClassifyError(status, body, nil)
}

func (a *zerodhaAdapter) GetOrderStatus(ctx context.Context, user *domain.User, brokerOrderID string) (domain.PlaceOrderResult, error) {
	url := fmt.Sprintf("%s/orders/%s", a.baseURL, brokerOrderID)
	status, body, err := a.client.DoWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		a.authorize(req, user)
		return req, nil
	})
	if err != nil {
		return domain.PlaceOrderResult{}, err
	}
	if cerr := ClassifyError(status, body, nil); cerr != nil {
		return domain.PlaceOrderResult{}, cerr
	}

	var wireResp placeOrderWireResponse
	if err := decodeJSON(body, &wireResp); err != nil {
		return domain.PlaceOrderResult{}, domain.PermanentError(err)
	}
	return domain.PlaceOrderResult{
		Status:        orderStatus(wireResp.Status),
		BrokerOrderID: wireResp.OrderID,
		FilledQty:     wireResp.FilledQty,
		AvgFillPrice:  decimal.NewFromFloat(wireResp.AvgFillPrice),
	}, nil
}

func (a *zerodhaAdapter) authorize(req *http.Request, user *domain.User) {
	req.Header.Set("Authorization", fmt.Sprintf("token %s:%s", user.Broker, user.SessionID))
}

func transactionType(side domain.Side) string {
	if side == domain.SideSell {
		return "SELL"
	}
	return "BUY"
}

func product(p domain.Product) string {
	if p == domain.ProductMTF {
		return "MTF"
	}
	return "CNC"
}

func orderStatus(vendorStatus string) domain.OrderStatus {
	switch vendorStatus {
	case "COMPLETE", "FILLED":
		return domain.OrderStatusFilled
	case "OPEN", "ACCEPTED", "TRIGGER PENDING":
		return domain.OrderStatusAccepted
	case "CANCELLED":
		return domain.OrderStatusCancelled
	case "REJECTED":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusAccepted
	}
}
