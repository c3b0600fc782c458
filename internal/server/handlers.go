// Package server provides the HTTP server and routing for the order router and ledger service.
package server

import (
	"encoding/json"
	"net/http"
)

// handleHealth runs an integrity check against both databases. A ledger
// holding real money is the one place where "the process is up" isn't
// enough; a corrupted page should fail loudly rather than surface as a
// wrong balance downstream.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK

	if err := s.configDB.HealthCheck(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("config database health check failed")
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	if err := s.ledgerDB.HealthCheck(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("ledger database health check failed")
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":  status,
		"version": "1.0.0",
		"service": "orderledger",
	}

	s.writeJSON(w, code, response)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
