// Package server provides the HTTP server and routing for the order
// router and ledger.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/orderledger/internal/config"
	"github.com/aristath/orderledger/internal/database"
	"github.com/aristath/orderledger/internal/modules/ledger"
	"github.com/aristath/orderledger/internal/modules/orders"
	"github.com/aristath/orderledger/internal/modules/realtime"
	"github.com/aristath/orderledger/internal/modules/webhook"
)

// Config holds server configuration.
type Config struct {
	Log             zerolog.Logger
	Config          *config.Config
	Port            int
	DevMode         bool
	ConfigDB        *database.DB
	LedgerDB        *database.DB
	OrdersHandlers  *orders.Handlers
	LedgerHandlers  *ledger.ReadHandlers
	WebhookHandlers *webhook.Handlers
	RealtimeHandler *realtime.Handler
}

// Server is the HTTP server.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
	cfg      *config.Config
	configDB *database.DB
	ledgerDB *database.DB
	orders   *orders.Handlers
	ledger   *ledger.ReadHandlers
	webhook  *webhook.Handlers
	rt       *realtime.Handler
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		log:      cfg.Log.With().Str("component", "server").Logger(),
		cfg:      cfg.Config,
		configDB: cfg.ConfigDB,
		ledgerDB: cfg.LedgerDB,
		orders:   cfg.OrdersHandlers,
		ledger:   cfg.LedgerHandlers,
		webhook:  cfg.WebhookHandlers,
		rt:       cfg.RealtimeHandler,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware.
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.orders.Register(s.router)
	s.ledger.Register(s.router)
	s.webhook.Register(s.router)
	s.rt.Register(s.router)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
