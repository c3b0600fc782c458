// Package httpauth resolves the caller identity for the internal HTTP
// surface. There is no session/cookie layer of its own here — a broker
// session lives on domain.User, not on the HTTP transport — so the
// simplest mechanism is a header naming the caller's user id.
package httpauth

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/aristath/orderledger/internal/domain"
	"github.com/aristath/orderledger/internal/modules/ledger"
)

// UserIDHeader names the caller in every request to the order/holdings
// surface and the realtime WebSocket upgrade.
const UserIDHeader = "X-User-ID"

// ErrMissingIdentity is returned when the header is absent or malformed.
var ErrMissingIdentity = errors.New("missing or invalid " + UserIDHeader + " header")

// Resolver reads the caller identity off a request and loads the
// corresponding user row.
type Resolver struct {
	db   *sql.DB
	repo *ledger.Repository
}

// NewResolver constructs a Resolver.
func NewResolver(db *sql.DB, repo *ledger.Repository) *Resolver {
	return &Resolver{db: db, repo: repo}
}

// FromHeader implements realtime.AuthFunc and is used directly by the
// orders/ledger REST handlers as well.
func (a *Resolver) FromHeader(r *http.Request) (*domain.User, error) {
	raw := r.Header.Get(UserIDHeader)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, ErrMissingIdentity
	}
	return a.repo.GetUser(a.db, id)
}
