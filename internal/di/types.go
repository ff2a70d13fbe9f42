// Package di provides dependency injection type definitions.
package di

import (
	"github.com/aristath/rebalancer/internal/clients/kraken"
	"github.com/aristath/rebalancer/internal/database"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/events"
	"github.com/aristath/rebalancer/internal/modules/history"
	"github.com/aristath/rebalancer/internal/modules/portfolios"
	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	"github.com/aristath/rebalancer/internal/reliability"
	"github.com/aristath/rebalancer/internal/scheduler"
	"github.com/aristath/rebalancer/internal/server"
)

// Container holds all dependencies for the application.
// It is created by Wire() and owns the database connections.
type Container struct {
	// Databases
	PortfoliosDB *database.DB // Portfolio definitions and schedule bookkeeping
	HistoryDB    *database.DB // Rebalance results

	// Clients
	KrakenClient *kraken.Client
	Gateway      domain.ExchangeGateway // Retrying decorator around the Kraken adapter

	// Repositories
	PortfolioRepo *portfolios.Repository
	HistoryRepo   *history.Repository

	// Services
	EventBus           *events.Bus
	EventManager       *events.Manager
	RebalancingService *rebalancing.Service
	Scheduler          *scheduler.Scheduler
	BackupService      *reliability.BackupService // nil unless backups are enabled

	// Maintenance
	MaintenanceRunner *reliability.Runner

	// HTTP modules mounted under /api
	Modules []server.RouteRegistrar
}

// Databases returns every open database
func (c *Container) Databases() []*database.DB {
	dbs := make([]*database.DB, 0, 2)
	for _, db := range []*database.DB{c.PortfoliosDB, c.HistoryDB} {
		if db != nil {
			dbs = append(dbs, db)
		}
	}
	return dbs
}

// Close closes every open database
func (c *Container) Close() error {
	var firstErr error
	for _, db := range c.Databases() {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
