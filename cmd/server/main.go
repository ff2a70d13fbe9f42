// Package main is the entry point for the portfolio rebalancer.
// It keeps configured crypto portfolios near their target weights by
// checking drift on each portfolio's schedule and placing exchange orders
// when a threshold is breached.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/di"
	"github.com/aristath/rebalancer/internal/server"
	"github.com/aristath/rebalancer/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// getEnv retrieves an environment variable value, returning a fallback if the
// variable is not set or is empty
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config failed before we know the log level
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		File:   cfg.LogFile,

		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting rebalancer")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	// Seed import runs before the scheduler so the first sync sees the portfolios
	if cfg.PortfolioSeedFile != "" {
		if _, err := container.PortfolioRepo.ImportSeed(cfg.PortfolioSeedFile); err != nil {
			log.Fatal().Err(err).Str("file", cfg.PortfolioSeedFile).Msg("Failed to import portfolio seed file")
		}
	}

	if cfg.Scheduler.Enabled {
		if err := container.Scheduler.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start scheduler")
		}
	} else {
		log.Warn().Msg("Scheduler disabled - portfolios only rebalance on manual triggers")
	}

	container.MaintenanceRunner.Start()

	devMode, _ := strconv.ParseBool(getEnv("DEV_MODE", "false"))
	srv := server.New(server.Config{
		Log:                log,
		Port:               cfg.Port,
		DevMode:            devMode,
		EventBus:           container.EventBus,
		Scheduler:          container.Scheduler,
		Databases:          container.Databases(),
		Modules:            container.Modules,
		ExchangeConfigured: cfg.HasExchangeCredentials(),
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop scheduling new runs, then let in-flight rebalances finish
	container.Scheduler.Stop()
	if err := container.Scheduler.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Timed out waiting for in-flight rebalances")
	}

	container.MaintenanceRunner.Stop()

	log.Info().Msg("Shutdown complete")
}
