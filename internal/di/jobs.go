package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/reliability"
)

// Maintenance schedules. Portfolio rebalances are never scheduled here.
const (
	historyRetentionSchedule    = "0 2 * * *"
	databaseMaintenanceSchedule = "@hourly"
)

// RegisterJobs builds the maintenance runner and registers its jobs
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) error {
	runner := reliability.NewRunner(log)

	if err := runner.AddJob(historyRetentionSchedule,
		reliability.NewHistoryRetentionJob(container.HistoryRepo, cfg.History.RetentionDays, log)); err != nil {
		return err
	}

	if err := runner.AddJob(databaseMaintenanceSchedule,
		reliability.NewDatabaseMaintenanceJob(container.Databases(), cfg.DataDir, log)); err != nil {
		return err
	}

	if container.BackupService != nil {
		job := reliability.NewBackupJob(container.BackupService, cfg.Backup.RetentionDays, log)
		if err := runner.AddJob(cfg.Backup.Schedule, job); err != nil {
			return fmt.Errorf("backup schedule: %w", err)
		}
	}

	container.MaintenanceRunner = runner
	log.Info().Strs("jobs", runner.Jobs()).Msg("Maintenance jobs registered")
	return nil
}
