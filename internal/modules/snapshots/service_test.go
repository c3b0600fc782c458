package snapshots

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/aristath/orderledger/internal/modules/holdings"
	"github.com/aristath/orderledger/internal/modules/ledger"
)

func newTestService(t *testing.T, quotes QuoteSource) (*Service, *ledger.Repository, *sql.DB) {
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
		CREATE TABLE portfolio_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT, user_id INTEGER NOT NULL, snapshot_date TEXT NOT NULL,
			cash_available TEXT NOT NULL, cash_blocked TEXT NOT NULL, realized_pnl TEXT NOT NULL,
			unrealized_pnl TEXT NOT NULL, holdings_json TEXT NOT NULL, created_at INTEGER NOT NULL,
			UNIQUE(user_id, snapshot_date)
		);
	`)
	require.NoError(t, err)

	repo := ledger.NewRepository(db, zerolog.Nop())
	return New(db, repo, quotes, zerolog.Nop()), repo, db
}

func TestRunForUserComputesUnrealizedPnL(t *testing.T) {
	fixedQuote := func(symbol string) (decimal.Decimal, bool) { return decimal.NewFromInt(120), true }
	svc, repo, db := newTestService(t, fixedQuote)

	_, err := db.Exec(`INSERT INTO users (id, role, cash_available, cash_blocked, created_at) VALUES (1, 'client', '1000', '0', 0)`)
	require.NoError(t, err)

	h := holdings.New(repo)
	require.NoError(t, h.ApplyBuy(db, 1, "ABC", 10, decimal.NewFromInt(100)))

	require.NoError(t, svc.RunForUser(1, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)))

	var unrealized, cashAvailable string
	err = db.QueryRow(`SELECT unrealized_pnl, cash_available FROM portfolio_snapshots WHERE user_id = 1 AND snapshot_date = '2026-08-01'`).
		Scan(&unrealized, &cashAvailable)
	require.NoError(t, err)
	require.Equal(t, "200.00", unrealized)
	require.Equal(t, "1000.00", cashAvailable)
}

func TestRunForUserRerunReplacesSameDateRow(t *testing.T) {
	quote := func(symbol string) (decimal.Decimal, bool) { return decimal.NewFromInt(100), true }
	svc, repo, db := newTestService(t, quote)

	_, err := db.Exec(`INSERT INTO users (id, role, cash_available, cash_blocked, created_at) VALUES (1, 'client', '500', '0', 0)`)
	require.NoError(t, err)
	h := holdings.New(repo)
	require.NoError(t, h.ApplyBuy(db, 1, "ABC", 5, decimal.NewFromInt(100)))

	asOf := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, svc.RunForUser(1, asOf))
	require.NoError(t, svc.RunForUser(1, asOf))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(1) FROM portfolio_snapshots WHERE user_id = 1`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestRunForUserFallsBackToAvgPriceWithoutQuote(t *testing.T) {
	noQuote := func(symbol string) (decimal.Decimal, bool) { return decimal.Zero, false }
	svc, repo, db := newTestService(t, noQuote)

	_, err := db.Exec(`INSERT INTO users (id, role, cash_available, cash_blocked, created_at) VALUES (1, 'client', '0', '0', 0)`)
	require.NoError(t, err)
	h := holdings.New(repo)
	require.NoError(t, h.ApplyBuy(db, 1, "ABC", 5, decimal.NewFromInt(80)))

	require.NoError(t, svc.RunForUser(1, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)))

	var unrealized string
	require.NoError(t, db.QueryRow(`SELECT unrealized_pnl FROM portfolio_snapshots WHERE user_id = 1`).Scan(&unrealized))
	require.Equal(t, "0.00", unrealized)
}
