package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/clients/gateway"
	"github.com/aristath/rebalancer/internal/clients/kraken"
	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/events"
	"github.com/aristath/rebalancer/internal/modules/history"
	"github.com/aristath/rebalancer/internal/modules/portfolios"
	portfoliohandlers "github.com/aristath/rebalancer/internal/modules/portfolios/handlers"
	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	rebalancinghandlers "github.com/aristath/rebalancer/internal/modules/rebalancing/handlers"
	"github.com/aristath/rebalancer/internal/reliability"
	"github.com/aristath/rebalancer/internal/scheduler"
	schedulerhandlers "github.com/aristath/rebalancer/internal/scheduler/handlers"
	"github.com/aristath/rebalancer/internal/server"
)

// InitializeRepositories creates the repositories on top of the open databases
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container.PortfoliosDB == nil || container.HistoryDB == nil {
		return fmt.Errorf("databases not initialized")
	}

	container.PortfolioRepo = portfolios.NewRepository(container.PortfoliosDB.Conn(), log)
	container.HistoryRepo = history.NewRepository(container.HistoryDB.Conn(), log)

	log.Info().Msg("Repositories initialized")
	return nil
}

// InitializeServices creates the exchange gateway, the rebalancing engine,
// the scheduler and the HTTP modules
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)

	container.KrakenClient = kraken.NewClient(
		cfg.Exchange.BaseURL,
		cfg.Exchange.APIKey,
		cfg.Exchange.APISecret,
		cfg.Exchange.Timeout,
		log,
	)
	container.Gateway = gateway.NewRetrying(
		kraken.NewGateway(container.KrakenClient, log),
		gateway.Config{
			Timeout:     cfg.Exchange.Timeout,
			MaxAttempts: cfg.Exchange.MaxAttempts,
			BackoffBase: cfg.Exchange.BackoffBase,
			BackoffMax:  cfg.Exchange.BackoffMax,
		},
		log,
	)
	if !cfg.HasExchangeCredentials() {
		log.Warn().Msg("Exchange credentials not configured - live runs will fail until they are set")
	}

	container.RebalancingService = rebalancing.NewService(
		container.PortfolioRepo,
		container.HistoryRepo,
		container.Gateway,
		rebalancing.NewLockManager(),
		container.EventManager,
		rebalancing.Config{
			FeeRate:        cfg.EstimatedFeeRate,
			RecordPreviews: cfg.History.RecordPreviews,
		},
		log,
	)

	// The rebalancing service is both the runner and the lock authority
	container.Scheduler = scheduler.New(
		container.PortfolioRepo,
		container.RebalancingService,
		container.RebalancingService.Locks(),
		container.EventManager,
		scheduler.RealClock(),
		scheduler.Config{TickInterval: cfg.Scheduler.TickInterval},
		log,
	)

	if cfg.Backup != nil && cfg.Backup.Enabled {
		store, err := reliability.NewS3Store(context.Background(), cfg.Backup, log)
		if err != nil {
			return fmt.Errorf("failed to create backup store: %w", err)
		}
		container.BackupService = reliability.NewBackupService(
			store,
			container.Databases(),
			cfg.DataDir,
			cfg.Backup.Prefix,
			container.EventManager,
			log,
		)
		log.Info().Str("bucket", cfg.Backup.Bucket).Msg("Backup service initialized")
	}

	container.Modules = []server.RouteRegistrar{
		portfoliohandlers.NewHandler(
			container.PortfolioRepo,
			container.HistoryRepo,
			container.EventManager,
			container.Scheduler,
			log,
		),
		rebalancinghandlers.NewHandler(container.RebalancingService, log),
		schedulerhandlers.NewHandler(container.Scheduler, log),
	}

	log.Info().Msg("Services initialized")
	return nil
}
