// Package main is the entry point for the order router and ledger service.
// It bootstraps the two SQLite databases (config, ledger), wires every
// module's services in dependency order, and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/orderledger/internal/config"
	"github.com/aristath/orderledger/internal/database"
	"github.com/aristath/orderledger/internal/events"
	"github.com/aristath/orderledger/internal/httpauth"
	"github.com/aristath/orderledger/internal/modules/audit"
	"github.com/aristath/orderledger/internal/modules/broker"
	"github.com/aristath/orderledger/internal/modules/fills"
	"github.com/aristath/orderledger/internal/modules/holdings"
	"github.com/aristath/orderledger/internal/modules/ledger"
	"github.com/aristath/orderledger/internal/modules/orders"
	"github.com/aristath/orderledger/internal/modules/realtime"
	"github.com/aristath/orderledger/internal/modules/settings"
	"github.com/aristath/orderledger/internal/modules/snapshots"
	"github.com/aristath/orderledger/internal/modules/webhook"
	"github.com/aristath/orderledger/internal/server"
	"github.com/aristath/orderledger/pkg/logger"
)

// vendorRoster lists the broker vendors this deployment can dispatch
// orders to. Each adapter shares the same rate-limited broker.Client.
var vendorRoster = []broker.VendorConfig{
	{Name: "zerodha", BaseURL: "https://api.kite.trade"},
	{Name: "groww", BaseURL: "https://api.groww.in"},
	{Name: "upstox", BaseURL: "https://api.upstox.com/v2"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
	log.Info().Msg("starting order router and ledger")

	configDB, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "config.db"), Profile: database.ProfileStandard, Name: "config",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open config database")
	}
	defer configDB.Close()
	if err := configDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate config database")
	}

	ledgerDB, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "ledger.db"), Profile: database.ProfileLedger, Name: "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open ledger database")
	}
	defer ledgerDB.Close()
	if err := ledgerDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate ledger database")
	}

	settingsRepo := settings.NewRepository(configDB.Conn(), log)
	if err := cfg.UpdateFromSettings(settingsRepo); err != nil {
		log.Warn().Err(err).Msg("failed to update config from settings database, using environment variables")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration after applying settings overrides")
	}

	bus := events.New(log)
	repo := ledger.NewRepository(ledgerDB.Conn(), log)
	auditLogger := audit.NewLogger(repo)
	holdingsSvc := holdings.New(repo)

	brokerClient := broker.NewClient(log)
	defer brokerClient.Close()
	brokerFactory := broker.NewFactory(brokerClient, vendorRoster)

	fillsSvc := fills.New(repo, holdingsSvc, auditLogger, bus)
	ordersSvc := orders.New(ledgerDB.Conn(), repo, holdingsSvc, fillsSvc, auditLogger, brokerFactory, bus, log)

	hub := realtime.NewHub(bus, log)
	resolver := httpauth.NewResolver(ledgerDB.Conn(), repo)

	snapshotSvc := snapshots.New(ledgerDB.Conn(), repo, noQuoteFeed, log)
	scheduler := snapshots.NewScheduler(snapshotSvc, log)
	if err := scheduler.Start(cfg.SnapshotCron); err != nil {
		log.Fatal().Err(err).Msg("failed to start snapshot scheduler")
	}

	secretSource := func() []string {
		current := *cfg
		if err := current.UpdateFromSettings(settingsRepo); err != nil {
			log.Warn().Err(err).Msg("failed to re-read webhook secrets from settings database")
		}
		return current.CandidateSecrets()
	}

	srv := server.New(server.Config{
		Port:            cfg.Port,
		Log:             log,
		Config:          cfg,
		DevMode:         cfg.DevMode,
		ConfigDB:        configDB,
		LedgerDB:        ledgerDB,
		OrdersHandlers:  orders.NewHandlers(ordersSvc, repo, resolver.FromHeader, cfg.DevMode, log),
		LedgerHandlers:  ledger.NewReadHandlers(ledgerDB.Conn(), repo, log),
		WebhookHandlers: webhook.NewHandlers(ledgerDB.Conn(), repo, fillsSvc, secretSource, log),
		RealtimeHandler: realtime.NewHandler(hub, resolver.FromHeader, log),
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down order router and ledger")
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// noQuoteFeed is used until a live market-data collaborator is wired in;
// it reports no quote so the snapshot rollup falls back to each holding's
// own average price.
func noQuoteFeed(symbol string) (decimal.Decimal, bool) {
	return decimal.Zero, false
}
