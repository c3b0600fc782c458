package ledger

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/aristath/orderledger/internal/domain"
)

func newTestRepo(t *testing.T) (*Repository, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema := `
	CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL, email TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL, broker TEXT NOT NULL DEFAULT '', session_id TEXT NOT NULL DEFAULT '',
		refresh_token TEXT NOT NULL DEFAULT '', cash_available TEXT NOT NULL DEFAULT '0',
		cash_blocked TEXT NOT NULL DEFAULT '0', created_at INTEGER NOT NULL, session_updated_at INTEGER
	);
	CREATE TABLE trader_clients (
		id INTEGER PRIMARY KEY AUTOINCREMENT, trader_id INTEGER NOT NULL, client_id INTEGER NOT NULL,
		created_at INTEGER NOT NULL, UNIQUE(trader_id, client_id)
	);
	CREATE TABLE holdings (
		id INTEGER PRIMARY KEY AUTOINCREMENT, user_id INTEGER NOT NULL, symbol TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 0, reserved_qty INTEGER NOT NULL DEFAULT 0,
		avg_price TEXT NOT NULL DEFAULT '0', last_updated INTEGER NOT NULL, UNIQUE(user_id, symbol)
	);
	CREATE TABLE orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT, user_id INTEGER NOT NULL, symbol TEXT NOT NULL,
		quantity INTEGER NOT NULL, price TEXT, side TEXT NOT NULL, product TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'NEW', filled_qty INTEGER NOT NULL DEFAULT 0,
		avg_fill_price TEXT NOT NULL DEFAULT '0', broker_order_id TEXT UNIQUE,
		created_at INTEGER NOT NULL, updated_at INTEGER NOT NULL
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
	CREATE TABLE portfolio_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT, user_id INTEGER NOT NULL, snapshot_date TEXT NOT NULL,
		cash_available TEXT NOT NULL, cash_blocked TEXT NOT NULL, realized_pnl TEXT NOT NULL,
		unrealized_pnl TEXT NOT NULL, holdings_json TEXT NOT NULL DEFAULT '[]', created_at INTEGER NOT NULL,
		UNIQUE(user_id, snapshot_date)
	);
	`
	_, err = db.Exec(schema)
	require.NoError(t, err)

	return NewRepository(db, zerolog.Nop()), db
}

func seedUser(t *testing.T, repo *Repository, db *sql.DB, role string, cash string) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO users (name, email, role, cash_available, cash_blocked, created_at) VALUES (?, ?, ?, ?, '0', 0)`,
		"u", role+"@example.com", role, cash)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func TestGetUserRoundTrip(t *testing.T) {
	repo, db := newTestRepo(t)
	id := seedUser(t, repo, db, "client", "10000.00")

	u, err := repo.GetUser(db, id)
	require.NoError(t, err)
	require.Equal(t, "10000", u.CashAvailable.String())
	require.True(t, u.CashBlocked.IsZero())
}

func TestGetUserNotFound(t *testing.T) {
	repo, db := newTestRepo(t)
	_, err := repo.GetUser(db, 999)
	require.Error(t, err)
	require.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestUpdateUserCash(t *testing.T) {
	repo, db := newTestRepo(t)
	id := seedUser(t, repo, db, "client", "10000.00")

	err := repo.UpdateUserCash(db, id, decimal.NewFromInt(5000), decimal.NewFromInt(5000))
	require.NoError(t, err)

	u, err := repo.GetUser(db, id)
	require.NoError(t, err)
	require.Equal(t, "5000", u.CashAvailable.String())
	require.Equal(t, "5000", u.CashBlocked.String())
}

func TestTraderManagesClient(t *testing.T) {
	repo, db := newTestRepo(t)
	traderID := seedUser(t, repo, db, "trader", "0")
	clientID := seedUser(t, repo, db, "client", "0")

	ok, err := repo.TraderManagesClient(db, traderID, clientID)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = db.Exec(`INSERT INTO trader_clients (trader_id, client_id, created_at) VALUES (?, ?, 0)`, traderID, clientID)
	require.NoError(t, err)

	ok, err = repo.TraderManagesClient(db, traderID, clientID)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHoldingUpsertAndDelete(t *testing.T) {
	repo, db := newTestRepo(t)
	userID := seedUser(t, repo, db, "client", "0")

	h := &domain.Holding{UserID: userID, Symbol: "ABC", Quantity: 100, AvgPrice: decimal.NewFromInt(50)}
	require.NoError(t, repo.UpsertHolding(db, h))

	got, err := repo.GetHolding(db, userID, "ABC")
	require.NoError(t, err)
	require.Equal(t, int64(100), got.Quantity)

	require.NoError(t, repo.DeleteHolding(db, userID, "ABC"))
	got, err = repo.GetHolding(db, userID, "ABC")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestCreateAndGetOrder(t *testing.T) {
	repo, db := newTestRepo(t)
	userID := seedUser(t, repo, db, "client", "10000")
	price := decimal.NewFromInt(50)

	o := &domain.Order{
		UserID: userID, Symbol: "ABC", Quantity: 100, Price: &price,
		Side: domain.SideBuy, Product: domain.ProductEquity, Status: domain.OrderStatusNew,
	}
	id, err := repo.CreateOrder(db, o)
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := repo.GetOrder(db, id)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusNew, got.Status)
	require.NotNil(t, got.Price)
	require.Equal(t, "50", got.Price.String())
}

func TestFillDedup(t *testing.T) {
	repo, db := newTestRepo(t)
	userID := seedUser(t, repo, db, "client", "10000")
	o := &domain.Order{UserID: userID, Symbol: "ABC", Quantity: 100, Side: domain.SideBuy, Product: domain.ProductEquity, Status: domain.OrderStatusAccepted}
	id, err := repo.CreateOrder(db, o)
	require.NoError(t, err)

	exists, err := repo.FillExists(db, id, "F1")
	require.NoError(t, err)
	require.False(t, exists)

	_, err = repo.CreateFill(db, &domain.OrderFill{OrderID: id, BrokerFillID: "F1", Quantity: 10, Price: decimal.NewFromInt(50)})
	require.NoError(t, err)

	exists, err = repo.FillExists(db, id, "F1")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestLastAuditHashEmptyChain(t *testing.T) {
	repo, db := newTestRepo(t)
	hash, err := repo.LastAuditHash(db)
	require.NoError(t, err)
	require.Equal(t, "", hash)
}

func TestAuditChainLinking(t *testing.T) {
	repo, db := newTestRepo(t)
	userID := seedUser(t, repo, db, "client", "0")

	_, err := repo.InsertAuditLog(db, &domain.AuditLog{ActorID: userID, TargetID: userID, Action: domain.AuditOrderAccepted, Hash: "h1"}, "{}")
	require.NoError(t, err)

	hash, err := repo.LastAuditHash(db)
	require.NoError(t, err)
	require.Equal(t, "h1", hash)

	_, err = repo.InsertAuditLog(db, &domain.AuditLog{ActorID: userID, TargetID: userID, Action: domain.AuditFundsDebit, PrevHash: hash, Hash: "h2"}, "{}")
	require.NoError(t, err)

	hash, err = repo.LastAuditHash(db)
	require.NoError(t, err)
	require.Equal(t, "h2", hash)
}
