package fills

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/aristath/orderledger/internal/domain"
	"github.com/aristath/orderledger/internal/events"
	"github.com/aristath/orderledger/internal/modules/audit"
	"github.com/aristath/orderledger/internal/modules/holdings"
	"github.com/aristath/orderledger/internal/modules/ledger"
)

func newTestService(t *testing.T) (*Service, *ledger.Repository, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, email TEXT UNIQUE, role TEXT,
			broker TEXT DEFAULT '', session_id TEXT DEFAULT '', refresh_token TEXT DEFAULT '',
			cash_available TEXT NOT NULL DEFAULT '0', cash_blocked TEXT NOT NULL DEFAULT '0',
			created_at INTEGER NOT NULL, session_updated_at INTEGER
		);
		CREATE TABLE holdings (
			id INTEGER PRIMARY KEY AUTOINCREMENT, user_id INTEGER NOT NULL, symbol TEXT NOT NULL,
			quantity INTEGER NOT NULL DEFAULT 0, reserved_qty INTEGER NOT NULL DEFAULT 0,
			avg_price TEXT NOT NULL DEFAULT '0', last_updated INTEGER NOT NULL, UNIQUE(user_id, symbol)
		);
		CREATE TABLE orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT, user_id INTEGER NOT NULL, symbol TEXT NOT NULL,
			quantity INTEGER NOT NULL, price TEXT, side TEXT NOT NULL, product TEXT NOT NULL,
			status TEXT NOT NULL, filled_qty INTEGER NOT NULL DEFAULT 0, avg_fill_price TEXT NOT NULL DEFAULT '0',
			broker_order_id TEXT UNIQUE, created_at INTEGER NOT NULL, updated_at INTEGER NOT NULL
		);
		CREATE TABLE order_fills (
			id INTEGER PRIMARY KEY AUTOINCREMENT, order_id INTEGER NOT NULL, broker_fill_id TEXT,
			quantity INTEGER NOT NULL, price TEXT NOT NULL, created_at INTEGER NOT NULL
		);
		CREATE UNIQUE INDEX idx_order_fills_dedup ON order_fills(order_id, broker_fill_id) WHERE broker_fill_id IS NOT NULL;
		CREATE TABLE audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT, actor_id INTEGER, target_id INTEGER, action TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '', details TEXT NOT NULL DEFAULT '{}', created_at INTEGER NOT NULL,
			ts_iso TEXT NOT NULL DEFAULT '', prev_hash TEXT, hash TEXT NOT NULL
		);
	`)
	require.NoError(t, err)

	repo := ledger.NewRepository(db, zerolog.Nop())
	h := holdings.New(repo)
	a := audit.NewLogger(repo)
	bus := events.New(zerolog.Nop())
	return New(repo, h, a, bus), repo, db
}

func seedUser(t *testing.T, db *sql.DB, id int64, available, blocked string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO users (id, cash_available, cash_blocked, created_at) VALUES (?, ?, ?, 0)`, id, available, blocked)
	require.NoError(t, err)
}

func createOrder(t *testing.T, repo *ledger.Repository, db *sql.DB, o *domain.Order) int64 {
	t.Helper()
	id, err := repo.CreateOrder(db, o)
	require.NoError(t, err)
	return id
}

func TestApplyFillBuyDebitsBlockedAndCreatesHolding(t *testing.T) {
	svc, repo, db := newTestService(t)
	seedUser(t, db, 1, "0", "5000")

	price := decimal.NewFromInt(100)
	orderID := createOrder(t, repo, db, &domain.Order{
		UserID: 1, Symbol: "ABC", Quantity: 50, Price: &price,
		Side: domain.SideBuy, Product: domain.ProductEquity, Status: domain.OrderStatusAccepted,
	})

	require.NoError(t, svc.ApplyFill(db, orderID, 50, decimal.NewFromInt(99), "fill-1"))

	order, err := repo.GetOrder(db, orderID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFilled, order.Status)
	require.Equal(t, int64(50), order.FilledQty)

	user, err := repo.GetUser(db, 1)
	require.NoError(t, err)
	require.True(t, user.CashBlocked.IsZero(), "leftover reservation should be released on full fill")
	require.Equal(t, "50", user.CashAvailable.String())

	h, err := repo.GetHolding(db, 1, "ABC")
	require.NoError(t, err)
	require.Equal(t, int64(50), h.Quantity)
}

func TestApplyFillDuplicateBrokerFillIDIsNoop(t *testing.T) {
	svc, repo, db := newTestService(t)
	seedUser(t, db, 1, "0", "5000")
	price := decimal.NewFromInt(100)
	orderID := createOrder(t, repo, db, &domain.Order{
		UserID: 1, Symbol: "ABC", Quantity: 50, Price: &price,
		Side: domain.SideBuy, Product: domain.ProductEquity, Status: domain.OrderStatusAccepted,
	})

	require.NoError(t, svc.ApplyFill(db, orderID, 20, decimal.NewFromInt(100), "dup"))
	err := svc.ApplyFill(db, orderID, 20, decimal.NewFromInt(100), "dup")
	require.Error(t, err)
	require.Equal(t, domain.KindFillAlreadyApplied, domain.KindOf(err))
}

func TestApplyFillClipsToRemainingQuantity(t *testing.T) {
	svc, repo, db := newTestService(t)
	seedUser(t, db, 1, "0", "5000")
	price := decimal.NewFromInt(100)
	orderID := createOrder(t, repo, db, &domain.Order{
		UserID: 1, Symbol: "ABC", Quantity: 50, Price: &price,
		Side: domain.SideBuy, Product: domain.ProductEquity, Status: domain.OrderStatusAccepted,
	})

	require.NoError(t, svc.ApplyFill(db, orderID, 1000, decimal.NewFromInt(100), ""))
	order, err := repo.GetOrder(db, orderID)
	require.NoError(t, err)
	require.Equal(t, int64(50), order.FilledQty)
	require.Equal(t, domain.OrderStatusFilled, order.Status)
}

func TestApplyFillOnTerminalOrderFails(t *testing.T) {
	svc, repo, db := newTestService(t)
	seedUser(t, db, 1, "0", "0")
	price := decimal.NewFromInt(100)
	orderID := createOrder(t, repo, db, &domain.Order{
		UserID: 1, Symbol: "ABC", Quantity: 50, Price: &price,
		Side: domain.SideBuy, Product: domain.ProductEquity, Status: domain.OrderStatusCancelled,
	})

	err := svc.ApplyFill(db, orderID, 10, decimal.NewFromInt(100), "")
	require.Error(t, err)
	require.Equal(t, domain.KindFillOnTerminal, domain.KindOf(err))
}

func TestApplyFillSellCreditsAvailableAndReleasesHolding(t *testing.T) {
	svc, repo, db := newTestService(t)
	h := holdings.New(repo)
	seedUser(t, db, 1, "0", "0")
	require.NoError(t, h.ApplyBuy(db, 1, "ABC", 100, decimal.NewFromInt(50)))
	holding, err := repo.GetHolding(db, 1, "ABC")
	require.NoError(t, err)
	require.NoError(t, h.ReserveHoldings(db, holding, 40))

	orderID := createOrder(t, repo, db, &domain.Order{
		UserID: 1, Symbol: "ABC", Quantity: 40,
		Side: domain.SideSell, Product: domain.ProductEquity, Status: domain.OrderStatusAccepted,
	})

	require.NoError(t, svc.ApplyFill(db, orderID, 40, decimal.NewFromInt(60), "fill-s"))

	user, err := repo.GetUser(db, 1)
	require.NoError(t, err)
	require.Equal(t, "2400", user.CashAvailable.String())

	remaining, err := repo.GetHolding(db, 1, "ABC")
	require.NoError(t, err)
	require.Equal(t, int64(60), remaining.Quantity)
}

func TestApplyCancelReleasesAllBlockedFunds(t *testing.T) {
	svc, repo, db := newTestService(t)
	seedUser(t, db, 1, "0", "5000")
	price := decimal.NewFromInt(100)
	orderID := createOrder(t, repo, db, &domain.Order{
		UserID: 1, Symbol: "ABC", Quantity: 50, Price: &price,
		Side: domain.SideBuy, Product: domain.ProductEquity, Status: domain.OrderStatusAccepted,
	})

	require.NoError(t, svc.ApplyCancel(db, orderID, domain.OrderStatusCancelled))

	user, err := repo.GetUser(db, 1)
	require.NoError(t, err)
	require.Equal(t, "5000", user.CashAvailable.String())
	require.True(t, user.CashBlocked.IsZero())

	order, err := repo.GetOrder(db, orderID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, order.Status)
}

func TestApplyCancelIdempotentOnTerminalOrder(t *testing.T) {
	svc, repo, db := newTestService(t)
	seedUser(t, db, 1, "0", "0")
	orderID := createOrder(t, repo, db, &domain.Order{
		UserID: 1, Symbol: "ABC", Quantity: 50,
		Side: domain.SideBuy, Product: domain.ProductEquity, Status: domain.OrderStatusFilled,
	})

	require.NoError(t, svc.ApplyCancel(db, orderID, domain.OrderStatusCancelled))
	order, err := repo.GetOrder(db, orderID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFilled, order.Status, "terminal order must not be overwritten")
}

func TestRealizedPnLFIFOMatching(t *testing.T) {
	buyOrderID := int64(1)
	sellOrderID := int64(2)
	fillsBySymbol := map[string][]*domain.OrderFill{
		"ABC": {
			{OrderID: buyOrderID, Quantity: 10, Price: decimal.NewFromInt(100)},
			{OrderID: buyOrderID, Quantity: 10, Price: decimal.NewFromInt(120)},
			{OrderID: sellOrderID, Quantity: 15, Price: decimal.NewFromInt(150)},
		},
	}
	sides := map[int64]domain.Side{buyOrderID: domain.SideBuy, sellOrderID: domain.SideSell}

	pnl := RealizedPnL(fillsBySymbol, sides, nil)
	// 10 units at cost 100 matched first (FIFO): (150-100)*10 = 500
	// remaining 5 units matched against the 120 lot: (150-120)*5 = 150
	require.Equal(t, "650", pnl.String())
}
