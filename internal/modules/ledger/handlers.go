package ledger

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// ReadHandlers exposes read-only holdings and snapshot lookups. It never
// mutates state, so it talks to the database directly rather than through
// a transaction-owning service.
type ReadHandlers struct {
	db   *sql.DB
	repo *Repository
	log  zerolog.Logger
}

// NewReadHandlers constructs ReadHandlers.
func NewReadHandlers(db *sql.DB, repo *Repository, log zerolog.Logger) *ReadHandlers {
	return &ReadHandlers{db: db, repo: repo, log: log.With().Str("component", "ledger_api").Logger()}
}

// Register mounts the read endpoints.
func (h *ReadHandlers) Register(r chi.Router) {
	r.Get("/api/holdings", h.handleHoldings)
	r.Get("/api/portfolio/snapshot", h.handleSnapshot)
}

func (h *ReadHandlers) handleHoldings(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user_id"})
		return
	}
	holdings, err := h.repo.ListHoldingsForUser(h.db, userID)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("failed to list holdings")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, holdings)
}

func (h *ReadHandlers) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user_id"})
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "date is required"})
		return
	}
	snap, err := h.repo.GetSnapshot(h.db, userID, date)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("failed to load snapshot")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if snap == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "snapshot not found"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
