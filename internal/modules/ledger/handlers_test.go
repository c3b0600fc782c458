package ledger

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/aristath/orderledger/internal/domain"
)

func newTestReadHandlers(t *testing.T) (*ReadHandlers, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE holdings (
			id INTEGER PRIMARY KEY AUTOINCREMENT, user_id INTEGER NOT NULL, symbol TEXT NOT NULL,
			quantity INTEGER NOT NULL DEFAULT 0, reserved_qty INTEGER NOT NULL DEFAULT 0,
			avg_price TEXT NOT NULL DEFAULT '0', last_updated INTEGER NOT NULL, UNIQUE(user_id, symbol)
		);
		CREATE TABLE portfolio_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT, user_id INTEGER NOT NULL, snapshot_date TEXT NOT NULL,
			cash_available TEXT NOT NULL, cash_blocked TEXT NOT NULL, realized_pnl TEXT NOT NULL,
			unrealized_pnl TEXT NOT NULL, holdings_json TEXT NOT NULL, created_at INTEGER NOT NULL,
			UNIQUE(user_id, snapshot_date)
		);
	`)
	require.NoError(t, err)

	repo := NewRepository(db, zerolog.Nop())
	return NewReadHandlers(db, repo, zerolog.Nop()), db
}

func newReadRouter(h *ReadHandlers) *chi.Mux {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func TestHandleHoldingsReturnsRowsForUser(t *testing.T) {
	h, db := newTestReadHandlers(t)
	_, err := db.Exec(`INSERT INTO holdings (user_id, symbol, quantity, reserved_qty, avg_price, last_updated) VALUES (2, 'ABC', 10, 0, '100', 0)`)
	require.NoError(t, err)

	router := newReadRouter(h)
	req := httptest.NewRequest(http.MethodGet, "/api/holdings?user_id=2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out []domain.Holding
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	require.Equal(t, "ABC", out[0].Symbol)
}

func TestHandleHoldingsRejectsInvalidUserID(t *testing.T) {
	h, _ := newTestReadHandlers(t)
	router := newReadRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/holdings?user_id=notanumber", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSnapshotReturnsNotFoundWhenMissing(t *testing.T) {
	h, _ := newTestReadHandlers(t)
	router := newReadRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/portfolio/snapshot?user_id=2&date=2026-08-01", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSnapshotReturnsRollup(t *testing.T) {
	h, db := newTestReadHandlers(t)
	_, err := db.Exec(`
		INSERT INTO portfolio_snapshots (user_id, snapshot_date, cash_available, cash_blocked, realized_pnl, unrealized_pnl, holdings_json, created_at)
		VALUES (2, '2026-08-01', '1000.00', '0.00', '0.00', '200.00', '[]', 0)
	`)
	require.NoError(t, err)

	router := newReadRouter(h)
	req := httptest.NewRequest(http.MethodGet, "/api/portfolio/snapshot?user_id=2&date=2026-08-01", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var snap domain.PortfolioSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, "200", snap.UnrealizedPnL.String())
}

func TestHandleSnapshotRequiresDate(t *testing.T) {
	h, _ := newTestReadHandlers(t)
	router := newReadRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/portfolio/snapshot?user_id=2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
