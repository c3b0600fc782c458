package holdings

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/aristath/orderledger/internal/domain"
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
	`)
	require.NoError(t, err)

	repo := ledger.NewRepository(db, zerolog.Nop())
	return New(repo), repo, db
}

func TestApplyBuyCreatesAndWeightsAverage(t *testing.T) {
	svc, repo, db := newTestService(t)

	require.NoError(t, svc.ApplyBuy(db, 1, "ABC", 40, decimal.NewFromInt(49)))
	require.NoError(t, svc.ApplyBuy(db, 1, "ABC", 60, decimal.NewFromInt(48)))

	h, err := repo.GetHolding(db, 1, "ABC")
	require.NoError(t, err)
	require.Equal(t, int64(100), h.Quantity)
	require.Equal(t, "48.4000", h.AvgPrice.StringFixed(4))
}

func TestApplyBuyRejectsNonPositivePrice(t *testing.T) {
	svc, _, db := newTestService(t)
	err := svc.ApplyBuy(db, 1, "ABC", 10, decimal.Zero)
	require.Error(t, err)
	require.Equal(t, domain.KindInvalidPrice, domain.KindOf(err))
}

func TestValidateSellInsufficientHoldings(t *testing.T) {
	svc, _, db := newTestService(t)
	err := svc.ValidateSell(db, 1, "ABC", 10)
	require.Error(t, err)
	require.Equal(t, domain.KindInsufficientHoldings, domain.KindOf(err))
}

func TestApplySellDeletesHoldingAtZero(t *testing.T) {
	svc, repo, db := newTestService(t)
	require.NoError(t, svc.ApplyBuy(db, 1, "ABC", 50, decimal.NewFromInt(100)))

	require.NoError(t, svc.ApplySell(db, 1, "ABC", 50))

	h, err := repo.GetHolding(db, 1, "ABC")
	require.NoError(t, err)
	require.Nil(t, h)
}

func TestReserveAndReleaseFundsRoundTrip(t *testing.T) {
	svc, repo, db := newTestService(t)
	_, err := db.Exec(`INSERT INTO users (id, cash_available, cash_blocked, created_at) VALUES (1, '10000', '0', 0)`)
	require.NoError(t, err)

	user, err := repo.GetUser(db, 1)
	require.NoError(t, err)

	require.NoError(t, svc.ReserveFunds(db, user, decimal.NewFromInt(5000)))
	require.Equal(t, "5000", user.CashAvailable.String())
	require.Equal(t, "5000", user.CashBlocked.String())

	require.NoError(t, svc.ReleaseFunds(db, user, decimal.NewFromInt(5000)))
	require.Equal(t, "10000", user.CashAvailable.String())
	require.True(t, user.CashBlocked.IsZero())
}

func TestReserveFundsInsufficient(t *testing.T) {
	svc, repo, db := newTestService(t)
	_, err := db.Exec(`INSERT INTO users (id, cash_available, cash_blocked, created_at) VALUES (1, '100', '0', 0)`)
	require.NoError(t, err)
	user, err := repo.GetUser(db, 1)
	require.NoError(t, err)

	err = svc.ReserveFunds(db, user, decimal.NewFromInt(500))
	require.Error(t, err)
	require.Equal(t, domain.KindInsufficientFunds, domain.KindOf(err))
}

func TestReserveAndReleaseHoldingsClamped(t *testing.T) {
	svc, repo, db := newTestService(t)
	require.NoError(t, svc.ApplyBuy(db, 1, "ABC", 50, decimal.NewFromInt(100)))

	h, err := repo.GetHolding(db, 1, "ABC")
	require.NoError(t, err)

	require.NoError(t, svc.ReserveHoldings(db, h, 20))
	require.Equal(t, int64(20), h.ReservedQty)

	require.NoError(t, svc.ReleaseHoldings(db, h, 50))
	require.Equal(t, int64(0), h.ReservedQty)
}
