// Package ledger is the persistence layer for users, trader/client
// mappings, holdings, orders, fills, and the audit chain. It speaks raw SQL
// against the ledger.db connection (ProfileLedger) rather than an ORM, the
// same idiom the rest of this codebase uses for its repositories.
package ledger

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/orderledger/internal/domain"
)

// Repository handles all ledger.db reads and writes. Every mutating method
// is expected to be called with a *sql.Tx obtained by the caller via
// database.WithTransaction; read-only methods accept either a *sql.DB or a
// *sql.Tx through the execer interface.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository constructs a Repository bound to the ledger database.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("component", "ledger_repository").Logger()}
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting every method
// below run either standalone or as part of a caller-managed transaction.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

const userColumns = `id, name, email, role, broker, session_id, refresh_token, cash_available, cash_blocked, created_at, session_updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*domain.User, error) {
	var u domain.User
	var cashAvail, cashBlocked string
	var createdAt int64
	var sessionUpdated sql.NullInt64

	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Broker, &u.SessionID, &u.RefreshToken,
		&cashAvail, &cashBlocked, &createdAt, &sessionUpdated); err != nil {
		return nil, err
	}

	avail, err := decimal.NewFromString(cashAvail)
	if err != nil {
		return nil, fmt.Errorf("parse cash_available: %w", err)
	}
	blocked, err := decimal.NewFromString(cashBlocked)
	if err != nil {
		return nil, fmt.Errorf("parse cash_blocked: %w", err)
	}
	u.CashAvailable = avail
	u.CashBlocked = blocked
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	if sessionUpdated.Valid {
		u.SessionUpdated = time.Unix(sessionUpdated.Int64, 0).UTC()
	}
	return &u, nil
}

// GetUser loads a user by id with a plain SELECT; it takes no row lock.
// Transactions from database.WithTransaction begin in SQLite's default
// deferred mode, so the database-file write lock is taken at the
// transaction's first write, not at this read.
func (r *Repository) GetUser(exec execer, id int64) (*domain.User, error) {
	row := exec.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("user", id)
	}
	return u, err
}

// UpdateUserCash persists the user's cash_available/cash_blocked fields.
func (r *Repository) UpdateUserCash(exec execer, userID int64, available, blocked decimal.Decimal) error {
	_, err := exec.Exec(`UPDATE users SET cash_available = ?, cash_blocked = ? WHERE id = ?`,
		domain.RoundCash(available).String(), domain.RoundCash(blocked).String(), userID)
	return err
}

// TraderManagesClient reports whether trader_id is mapped to client_id.
func (r *Repository) TraderManagesClient(exec execer, traderID, clientID int64) (bool, error) {
	var count int
	err := exec.QueryRow(`SELECT COUNT(1) FROM trader_clients WHERE trader_id = ? AND client_id = ?`,
		traderID, clientID).Scan(&count)
	return count > 0, err
}

const holdingColumns = `id, user_id, symbol, quantity, reserved_qty, avg_price, last_updated`

func scanHolding(row interface{ Scan(...interface{}) error }) (*domain.Holding, error) {
	var h domain.Holding
	var avgPrice string
	var lastUpdated int64
	if err := row.Scan(&h.ID, &h.UserID, &h.Symbol, &h.Quantity, &h.ReservedQty, &avgPrice, &lastUpdated); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(avgPrice)
	if err != nil {
		return nil, fmt.Errorf("parse avg_price: %w", err)
	}
	h.AvgPrice = d
	h.LastUpdated = time.Unix(lastUpdated, 0).UTC()
	return &h, nil
}

// GetHolding returns the (user, symbol) holding, or nil if none exists.
func (r *Repository) GetHolding(exec execer, userID int64, symbol string) (*domain.Holding, error) {
	row := exec.QueryRow(`SELECT `+holdingColumns+` FROM holdings WHERE user_id = ? AND symbol = ?`, userID, symbol)
	h, err := scanHolding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return h, err
}

// ListHoldingsForUser returns every holding row for userID, symbol order.
func (r *Repository) ListHoldingsForUser(exec execer, userID int64) ([]*domain.Holding, error) {
	rows, err := exec.Query(`SELECT `+holdingColumns+` FROM holdings WHERE user_id = ? ORDER BY symbol`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// UpsertHolding inserts or replaces the holding row identified by
// (user_id, symbol).
func (r *Repository) UpsertHolding(exec execer, h *domain.Holding) error {
	now := time.Now().UTC().Unix()
	_, err := exec.Exec(`
		INSERT INTO holdings (user_id, symbol, quantity, reserved_qty, avg_price, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, symbol) DO UPDATE SET
			quantity = excluded.quantity,
			reserved_qty = excluded.reserved_qty,
			avg_price = excluded.avg_price,
			last_updated = excluded.last_updated
	`, h.UserID, h.Symbol, h.Quantity, h.ReservedQty, domain.RoundPrice(h.AvgPrice).String(), now)
	return err
}

// DeleteHolding removes a holding row entirely (quantity reached zero).
func (r *Repository) DeleteHolding(exec execer, userID int64, symbol string) error {
	_, err := exec.Exec(`DELETE FROM holdings WHERE user_id = ? AND symbol = ?`, userID, symbol)
	return err
}

const orderColumns = `id, user_id, symbol, quantity, price, side, product, status, filled_qty, avg_fill_price, broker_order_id, created_at, updated_at`

func scanOrder(row interface{ Scan(...interface{}) error }) (*domain.Order, error) {
	var o domain.Order
	var price sql.NullString
	var avgFillPrice string
	var brokerOrderID sql.NullString
	var createdAt, updatedAt int64

	if err := row.Scan(&o.ID, &o.UserID, &o.Symbol, &o.Quantity, &price, &o.Side, &o.Product, &o.Status,
		&o.FilledQty, &avgFillPrice, &brokerOrderID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if price.Valid {
		d, err := decimal.NewFromString(price.String)
		if err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		o.Price = &d
	}
	avg, err := decimal.NewFromString(avgFillPrice)
	if err != nil {
		return nil, fmt.Errorf("parse avg_fill_price: %w", err)
	}
	o.AvgFillPrice = avg
	o.BrokerOrderID = brokerOrderID.String
	o.CreatedAt = time.Unix(createdAt, 0).UTC()
	o.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &o, nil
}

// CreateOrder inserts a new order and returns its assigned id.
func (r *Repository) CreateOrder(exec execer, o *domain.Order) (int64, error) {
	now := time.Now().UTC().Unix()
	o.CreatedAt = time.Unix(now, 0).UTC()
	o.UpdatedAt = o.CreatedAt

	var priceStr interface{}
	if o.Price != nil {
		priceStr = domain.RoundPrice(*o.Price).String()
	}
	var brokerOrderID interface{}
	if o.BrokerOrderID != "" {
		brokerOrderID = o.BrokerOrderID
	}

	res, err := exec.Exec(`
		INSERT INTO orders (user_id, symbol, quantity, price, side, product, status, filled_qty, avg_fill_price, broker_order_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.UserID, o.Symbol, o.Quantity, priceStr, o.Side, o.Product, o.Status, o.FilledQty,
		domain.RoundPrice(o.AvgFillPrice).String(), brokerOrderID, now, now)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	o.ID = id
	return id, nil
}

// GetOrder loads an order by id.
func (r *Repository) GetOrder(exec execer, id int64) (*domain.Order, error) {
	row := exec.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("order", id)
	}
	return o, err
}

// UpdateOrder persists the mutable fields of an order: status, broker id,
// filled quantity, and average fill price.
func (r *Repository) UpdateOrder(exec execer, o *domain.Order) error {
	var brokerOrderID interface{}
	if o.BrokerOrderID != "" {
		brokerOrderID = o.BrokerOrderID
	}
	_, err := exec.Exec(`
		UPDATE orders SET status = ?, filled_qty = ?, avg_fill_price = ?, broker_order_id = ?, updated_at = ?
		WHERE id = ?
	`, o.Status, o.FilledQty, domain.RoundPrice(o.AvgFillPrice).String(), brokerOrderID, time.Now().UTC().Unix(), o.ID)
	return err
}

// ListOrdersForUser returns a user's orders, most recent first.
func (r *Repository) ListOrdersForUser(exec execer, userID int64) ([]*domain.Order, error) {
	rows, err := exec.Query(`SELECT `+orderColumns+` FROM orders WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// FillExists reports whether a fill with the given broker_fill_id has
// already been applied to order_id. An empty brokerFillID never matches
// (fills without a vendor id are not deduplicated).
func (r *Repository) FillExists(exec execer, orderID int64, brokerFillID string) (bool, error) {
	if brokerFillID == "" {
		return false, nil
	}
	var count int
	err := exec.QueryRow(`SELECT COUNT(1) FROM order_fills WHERE order_id = ? AND broker_fill_id = ?`,
		orderID, brokerFillID).Scan(&count)
	return count > 0, err
}

// CreateFill inserts an OrderFill row.
func (r *Repository) CreateFill(exec execer, f *domain.OrderFill) (int64, error) {
	now := time.Now().UTC().Unix()
	var brokerFillID interface{}
	if f.BrokerFillID != "" {
		brokerFillID = f.BrokerFillID
	}
	res, err := exec.Exec(`
		INSERT INTO order_fills (order_id, broker_fill_id, quantity, price, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, f.OrderID, brokerFillID, f.Quantity, domain.RoundPrice(f.Price).String(), now)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	f.ID = id
	f.CreatedAt = time.Unix(now, 0).UTC()
	return id, nil
}

// ListFillsForOrder returns all fills for an order, oldest first.
func (r *Repository) ListFillsForOrder(exec execer, orderID int64) ([]*domain.OrderFill, error) {
	return r.queryFills(exec, `SELECT id, order_id, broker_fill_id, quantity, price, created_at FROM order_fills WHERE order_id = ? ORDER BY created_at ASC, id ASC`, orderID)
}

// ListFillsForUser returns every fill belonging to orders owned by userID,
// oldest first — the feed the FIFO realized-PnL walk consumes.
func (r *Repository) ListFillsForUser(exec execer, userID int64) ([]*domain.OrderFill, error) {
	return r.queryFills(exec, `
		SELECT f.id, f.order_id, f.broker_fill_id, f.quantity, f.price, f.created_at
		FROM order_fills f
		JOIN orders o ON o.id = f.order_id
		WHERE o.user_id = ?
		ORDER BY f.created_at ASC, f.id ASC
	`, userID)
}

func (r *Repository) queryFills(exec execer, query string, arg int64) ([]*domain.OrderFill, error) {
	rows, err := exec.Query(query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.OrderFill
	for rows.Next() {
		var f domain.OrderFill
		var brokerFillID sql.NullString
		var price string
		var createdAt int64
		if err := rows.Scan(&f.ID, &f.OrderID, &brokerFillID, &f.Quantity, &price, &createdAt); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("parse fill price: %w", err)
		}
		f.Price = d
		f.BrokerFillID = brokerFillID.String
		f.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, &f)
	}
	return out, rows.Err()
}

// LastAuditHash returns the hash of the most recently inserted audit row,
// or "" if the chain is empty.
func (r *Repository) LastAuditHash(exec execer) (string, error) {
	var hash string
	err := exec.QueryRow(`SELECT hash FROM audit_log ORDER BY id DESC LIMIT 1`).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, err
}

// InsertAuditLog appends a fully computed audit row (hash chaining is the
// caller's responsibility; see internal/modules/audit).
func (r *Repository) InsertAuditLog(exec execer, a *domain.AuditLog, detailsJSON string) (int64, error) {
	now := time.Now().UTC().Unix()
	var prevHash interface{}
	if a.PrevHash != "" {
		prevHash = a.PrevHash
	}
	res, err := exec.Exec(`
		INSERT INTO audit_log (actor_id, target_id, action, description, details, created_at, ts_iso, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ActorID, a.TargetID, a.Action, a.Description, detailsJSON, now, a.TsISO, prevHash, a.Hash)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	a.ID = id
	a.CreatedAt = time.Unix(now, 0).UTC()
	return id, nil
}

// ListAuditLogFrom returns audit rows with id >= fromID, oldest first, for
// chain verification tooling.
func (r *Repository) ListAuditLogFrom(exec execer, fromID int64) ([]*domain.AuditLog, error) {
	rows, err := exec.Query(`
		SELECT id, actor_id, target_id, action, description, details, ts_iso, prev_hash, hash
		FROM audit_log WHERE id >= ? ORDER BY id ASC
	`, fromID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		var a domain.AuditLog
		var actorID, targetID sql.NullInt64
		var detailsJSON string
		var prevHash sql.NullString
		if err := rows.Scan(&a.ID, &actorID, &targetID, &a.Action, &a.Description, &detailsJSON, &a.TsISO, &prevHash, &a.Hash); err != nil {
			return nil, err
		}
		a.ActorID = actorID.Int64
		a.TargetID = targetID.Int64
		a.PrevHash = prevHash.String
		var details map[string]interface{}
		if err := json.Unmarshal([]byte(detailsJSON), &details); err != nil {
			return nil, fmt.Errorf("parse audit details: %w", err)
		}
		a.Details = details
		out = append(out, &a)
	}
	return out, rows.Err()
}

// UpsertSnapshot writes a portfolio snapshot, replacing any existing row
// for the same (user_id, snapshot_date).
func (r *Repository) UpsertSnapshot(exec execer, s *domain.PortfolioSnapshot, holdingsJSON string) error {
	now := time.Now().UTC().Unix()
	_, err := exec.Exec(`
		INSERT INTO portfolio_snapshots (user_id, snapshot_date, cash_available, cash_blocked, realized_pnl, unrealized_pnl, holdings_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, snapshot_date) DO UPDATE SET
			cash_available = excluded.cash_available,
			cash_blocked = excluded.cash_blocked,
			realized_pnl = excluded.realized_pnl,
			unrealized_pnl = excluded.unrealized_pnl,
			holdings_json = excluded.holdings_json,
			created_at = excluded.created_at
	`, s.UserID, s.SnapshotDate, domain.RoundCash(s.CashAvailable).StringFixed(domain.CashScale), domain.RoundCash(s.CashBlocked).StringFixed(domain.CashScale),
		domain.RoundCash(s.RealizedPnL).StringFixed(domain.CashScale), domain.RoundCash(s.UnrealizedPnL).StringFixed(domain.CashScale), holdingsJSON, now)
	return err
}

// GetSnapshot returns the snapshot for (userID, date) ("YYYY-MM-DD"), or
// nil if the rollup has not run for that day.
func (r *Repository) GetSnapshot(exec execer, userID int64, date string) (*domain.PortfolioSnapshot, error) {
	var s domain.PortfolioSnapshot
	var cashAvail, cashBlocked, realized, unrealized, holdingsJSON string
	var createdAt int64

	err := exec.QueryRow(`
		SELECT id, user_id, snapshot_date, cash_available, cash_blocked, realized_pnl, unrealized_pnl, holdings_json, created_at
		FROM portfolio_snapshots WHERE user_id = ? AND snapshot_date = ?
	`, userID, date).Scan(&s.ID, &s.UserID, &s.SnapshotDate, &cashAvail, &cashBlocked, &realized, &unrealized, &holdingsJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	for _, pair := range []struct {
		dst *decimal.Decimal
		raw string
	}{{&s.CashAvailable, cashAvail}, {&s.CashBlocked, cashBlocked}, {&s.RealizedPnL, realized}, {&s.UnrealizedPnL, unrealized}} {
		d, err := decimal.NewFromString(pair.raw)
		if err != nil {
			return nil, fmt.Errorf("parse snapshot decimal: %w", err)
		}
		*pair.dst = d
	}

	var holdings []domain.SnapshotHolding
	if err := json.Unmarshal([]byte(holdingsJSON), &holdings); err != nil {
		return nil, fmt.Errorf("parse snapshot holdings: %w", err)
	}
	s.Holdings = holdings
	s.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &s, nil
}
