package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/aristath/rebalancer/internal/database"
)

const (
	jobTimeout = 10 * time.Minute

	// walFramesWarning is the WAL size, in frames, that forces a truncating checkpoint
	walFramesWarning = 1000

	criticalFreeBytes = 500 * 1024 * 1024
	lowFreeBytes      = 2 * 1024 * 1024 * 1024
)

// HistoryPruner deletes old history rows
type HistoryPruner interface {
	DeleteOlderThan(cutoff time.Time) (int64, error)
}

// HistoryRetentionJob deletes rebalance history older than the retention window
type HistoryRetentionJob struct {
	history       HistoryPruner
	retentionDays int
	log           zerolog.Logger
	now           func() time.Time
}

// NewHistoryRetentionJob creates the job. retentionDays 0 keeps history forever.
func NewHistoryRetentionJob(history HistoryPruner, retentionDays int, log zerolog.Logger) *HistoryRetentionJob {
	return &HistoryRetentionJob{
		history:       history,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "history_retention").Logger(),
		now:           time.Now,
	}
}

// Name returns the job name
func (j *HistoryRetentionJob) Name() string {
	return "history_retention"
}

// Run executes the job
func (j *HistoryRetentionJob) Run() error {
	if j.retentionDays <= 0 {
		j.log.Debug().Msg("History retention disabled")
		return nil
	}

	cutoff := j.now().AddDate(0, 0, -j.retentionDays)
	deleted, err := j.history.DeleteOlderThan(cutoff)
	if err != nil {
		return err
	}

	j.log.Info().
		Int64("deleted", deleted).
		Int("retention_days", j.retentionDays).
		Msg("History retention completed")
	return nil
}

// DatabaseMaintenanceJob checks integrity, checkpoints the WAL and watches
// free disk space for every database
type DatabaseMaintenanceJob struct {
	databases []*database.DB
	dataDir   string
	log       zerolog.Logger

	diskFree func(path string) (uint64, error)
}

// NewDatabaseMaintenanceJob creates the job
func NewDatabaseMaintenanceJob(databases []*database.DB, dataDir string, log zerolog.Logger) *DatabaseMaintenanceJob {
	return &DatabaseMaintenanceJob{
		databases: databases,
		dataDir:   dataDir,
		log:       log.With().Str("job", "database_maintenance").Logger(),
		diskFree:  diskFree,
	}
}

// Name returns the job name
func (j *DatabaseMaintenanceJob) Name() string {
	return "database_maintenance"
}

// Run executes the job. A failed integrity check or critically low disk
// space fails the job; a failed checkpoint is only logged.
func (j *DatabaseMaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	for _, db := range j.databases {
		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("Integrity check failed")
			return err
		}

		var busy, frames, checkpointed int
		err := db.Conn().QueryRowContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &frames, &checkpointed)
		if err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to check WAL checkpoint")
			continue
		}

		if frames > walFramesWarning {
			j.log.Warn().
				Str("database", db.Name()).
				Int("wal_frames", frames).
				Int("checkpointed", checkpointed).
				Msg("WAL file is large, truncating")
			if err := db.WALCheckpoint("TRUNCATE"); err != nil {
				j.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
			}
		} else {
			j.log.Debug().
				Str("database", db.Name()).
				Int("wal_frames", frames).
				Msg("WAL checkpoint status OK")
		}
	}

	return j.checkDiskSpace()
}

func (j *DatabaseMaintenanceJob) checkDiskSpace() error {
	free, err := j.diskFree(j.dataDir)
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to read disk usage")
		return nil
	}

	availableMB := float64(free) / 1024 / 1024
	switch {
	case free < criticalFreeBytes:
		j.log.Error().Float64("available_mb", availableMB).Msg("Insufficient disk space")
		return fmt.Errorf("only %.0f MB free in %s", availableMB, j.dataDir)
	case free < lowFreeBytes:
		j.log.Warn().Float64("available_mb", availableMB).Msg("Disk space running low")
	default:
		j.log.Debug().Float64("available_mb", availableMB).Msg("Disk space check")
	}
	return nil
}

func diskFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// BackupJob uploads a fresh archive and rotates old ones
type BackupJob struct {
	service       *BackupService
	retentionDays int
	log           zerolog.Logger
}

// NewBackupJob creates the job
func NewBackupJob(service *BackupService, retentionDays int, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		service:       service,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "backup"
}

// Run executes the job. Rotation failures do not fail the job.
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if _, err := j.service.CreateAndUpload(ctx); err != nil {
		return err
	}
	if _, err := j.service.RotateOldBackups(ctx, j.retentionDays); err != nil {
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}
	return nil
}
