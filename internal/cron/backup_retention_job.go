package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/fisiohub/clinic-backend/pkg/logger"
)

const backupRetentionDays = 90

type backupRetentionStore interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// BackupRetentionJobParams configure the backup pruning job.
type BackupRetentionJobParams struct {
	Logger    *logger.Logger
	Backups   backupRetentionStore
	Retention int
}

// NewBackupRetentionJob builds the job that prunes old backup records.
func NewBackupRetentionJob(params BackupRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Backups == nil {
		return nil, fmt.Errorf("backup service required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = backupRetentionDays
	}
	return &backupRetentionJob{
		logg:      params.Logger,
		backups:   params.Backups,
		retention: retention,
		now:       time.Now,
	}, nil
}

type backupRetentionJob struct {
	logg      *logger.Logger
	backups   backupRetentionStore
	retention int
	now       func() time.Time
}

func (j *backupRetentionJob) Name() string { return "backup-retention" }

func (j *backupRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)
	deleted, err := j.backups.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("backup retention: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	})
	j.logg.Info(logCtx, "backup retention cleanup complete")
	return nil
}
