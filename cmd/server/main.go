// Package main is the entry point for the frontier service. It serves
// mean-variance analyses of assets whose daily closes are kept in the local
// price history database.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/frontier/internal/config"
	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/metrics"
	"github.com/aristath/frontier/internal/modules/history"
	"github.com/aristath/frontier/internal/modules/markowitz"
	markowitzhandlers "github.com/aristath/frontier/internal/modules/markowitz/handlers"
	"github.com/aristath/frontier/internal/server"
	"github.com/aristath/frontier/pkg/logger"
	"github.com/rs/zerolog"
)

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting frontier")

	driver, err := database.ParseDriver(cfg.HistoryDriver)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid history database driver")
	}

	if err := ensureHistorySchema(cfg.HistoryDBPath, driver, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare history database")
	}

	// The service only reads prices; the CLI loads them.
	historyDB, err := database.New(database.Config{
		Path:    cfg.HistoryDBPath,
		Driver:  driver,
		Profile: database.ProfileReadOnly,
		Name:    "history",
	})
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.HistoryDBPath).Msg("Failed to open history database")
	}
	defer historyDB.Close()

	prices := history.NewHistoryDB(historyDB.Conn(), log)
	registry := metrics.NewRegistry()
	analyzer := markowitz.NewAnalyzer(log, registry, cfg.SolverTimeout)

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Version:   getEnv("VERSION", "dev"),
		HistoryDB: historyDB,
		Metrics:   registry,
		Markowitz: markowitzhandlers.NewHandler(analyzer, prices, markowitzhandlers.Defaults{
			RiskFreeRate: cfg.RiskFreeRate,
			Points:       cfg.FrontierPoints,
			MaxAssets:    cfg.MaxAssets,
			MaxPoints:    cfg.MaxFrontierPoints,
		}, log),
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().
		Int("port", cfg.Port).
		Float64("risk_free_rate", cfg.RiskFreeRate).
		Int("frontier_points", cfg.FrontierPoints).
		Dur("solver_timeout", cfg.SolverTimeout).
		Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// ensureHistorySchema creates the price table through a short-lived writable
// connection so the read-only service can start against an empty file.
func ensureHistorySchema(path string, driver database.Driver, log zerolog.Logger) error {
	db, err := database.New(database.Config{Path: path, Driver: driver, Name: "history"})
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return history.NewHistoryDB(db.Conn(), log).EnsureSchema(ctx)
}
