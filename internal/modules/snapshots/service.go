// Package snapshots computes and persists the daily portfolio rollup:
// cash balances, realized PnL (via the fills package's FIFO walk), and
// unrealized PnL against the last known quote for each holding.
package snapshots

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/orderledger/internal/domain"
	"github.com/aristath/orderledger/internal/modules/fills"
	"github.com/aristath/orderledger/internal/modules/ledger"
)

// QuoteSource supplies the last known market price for a symbol. A live
// feed is an external collaborator this ledger does not own; callers that
// have no feed wired may pass a source that always reports no quote
// (ok=false), in which case each holding is valued at its own avg_price and
// contributes zero unrealized PnL rather than fail.
type QuoteSource func(symbol string) (decimal.Decimal, bool)

// Service computes and upserts one client's portfolio_snapshots row at a
// time, and the loop that does it for every client.
type Service struct {
	repo   *ledger.Repository
	db     *sql.DB
	quotes QuoteSource
	log    zerolog.Logger
}

// New constructs a snapshot Service.
func New(db *sql.DB, repo *ledger.Repository, quotes QuoteSource, log zerolog.Logger) *Service {
	return &Service{repo: repo, db: db, quotes: quotes, log: log.With().Str("component", "snapshot_rollup").Logger()}
}

// RunForUser computes and upserts today's snapshot for a single client.
func (s *Service) RunForUser(userID int64, asOf time.Time) error {
	user, err := s.repo.GetUser(s.db, userID)
	if err != nil {
		return err
	}

	fillRows, err := s.repo.ListFillsForUser(s.db, userID)
	if err != nil {
		return err
	}
	realizedPnL := s.realizedPnL(fillRows)

	holdingSymbols, err := s.listHoldingSymbols(userID)
	if err != nil {
		return err
	}

	unrealized := decimal.Zero
	snapshotHoldings := make([]domain.SnapshotHolding, 0, len(holdingSymbols))
	for _, symbol := range holdingSymbols {
		h, err := s.repo.GetHolding(s.db, userID, symbol)
		if err != nil {
			return err
		}
		if h == nil {
			continue
		}
		marketPrice, ok := s.quotes(symbol)
		if !ok {
			marketPrice = h.AvgPrice
		}
		lineUnrealized := domain.RoundCash(marketPrice.Sub(h.AvgPrice).Mul(decimal.NewFromInt(h.Quantity)))
		unrealized = unrealized.Add(lineUnrealized)
		snapshotHoldings = append(snapshotHoldings, domain.SnapshotHolding{
			Symbol: symbol, Quantity: h.Quantity, AvgPrice: h.AvgPrice,
			MarketPrice: marketPrice, UnrealizedPnL: lineUnrealized,
		})
	}

	snap := &domain.PortfolioSnapshot{
		UserID:        userID,
		SnapshotDate:  asOf.UTC().Format("2006-01-02"),
		CashAvailable: user.CashAvailable,
		CashBlocked:   user.CashBlocked,
		RealizedPnL:   realizedPnL,
		UnrealizedPnL: domain.RoundCash(unrealized),
		Holdings:      snapshotHoldings,
	}

	holdingsJSON, err := marshalHoldings(snapshotHoldings)
	if err != nil {
		return err
	}
	return s.repo.UpsertSnapshot(s.db, snap, holdingsJSON)
}

// RunForAllClients runs RunForUser for every user with role=client,
// logging (not aborting) on a per-user failure so one bad account doesn't
// block the rest of the rollup.
func (s *Service) RunForAllClients(asOf time.Time) error {
	rows, err := s.db.Query(`SELECT id FROM users WHERE role = ?`, domain.RoleClient)
	if err != nil {
		return err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		if err := s.RunForUser(id, asOf); err != nil {
			s.log.Error().Err(err).Int64("user_id", id).Msg("snapshot rollup failed for client")
		}
	}
	return nil
}

func (s *Service) realizedPnL(fillRows []*domain.OrderFill) decimal.Decimal {
	bySymbol := make(map[string][]*domain.OrderFill)
	sides := make(map[int64]domain.Side)

	for _, f := range fillRows {
		order, err := s.repo.GetOrder(s.db, f.OrderID)
		if err != nil {
			continue
		}
		bySymbol[order.Symbol] = append(bySymbol[order.Symbol], f)
		sides[f.OrderID] = order.Side
	}
	return fills.RealizedPnL(bySymbol, sides, nil)
}

func (s *Service) listHoldingSymbols(userID int64) ([]string, error) {
	rows, err := s.db.Query(`SELECT symbol FROM holdings WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, err
		}
		out = append(out, symbol)
	}
	return out, rows.Err()
}
