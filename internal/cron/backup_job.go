package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/fisiohub/clinic-backend/internal/backups"
	"github.com/fisiohub/clinic-backend/pkg/db/models"
	"github.com/fisiohub/clinic-backend/pkg/enums"
	pkgerrors "github.com/fisiohub/clinic-backend/pkg/errors"
	"github.com/fisiohub/clinic-backend/pkg/logger"
)

type clinicLister interface {
	ListIDs(ctx context.Context) ([]uuid.UUID, error)
}

type backupRunner interface {
	Run(ctx context.Context, clinicID, actorUserID uuid.UUID, trigger string) (*models.BackupRecord, error)
}

// BackupJobParams configure the nightly export job.
type BackupJobParams struct {
	Logger  *logger.Logger
	Clinics clinicLister
	Backups backupRunner
}

// NewBackupJob builds the job that exports every clinic's data.
func NewBackupJob(params BackupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Clinics == nil {
		return nil, fmt.Errorf("clinic repository required")
	}
	if params.Backups == nil {
		return nil, fmt.Errorf("backup service required")
	}
	return &backupJob{
		logg:    params.Logger,
		clinics: params.Clinics,
		backups: params.Backups,
	}, nil
}

type backupJob struct {
	logg    *logger.Logger
	clinics clinicLister
	backups backupRunner
}

func (j *backupJob) Name() string { return "nightly-backup" }

func (j *backupJob) Run(ctx context.Context) error {
	ids, err := j.clinics.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("list clinics: %w", err)
	}
	var errs error
	completed := 0
	skipped := 0
	for _, clinicID := range ids {
		record, runErr := j.backups.Run(ctx, clinicID, uuid.Nil, backups.TriggerScheduled)
		if runErr != nil {
			// A manual backup already holds the clinic slot; leave it be.
			if pkgerrors.As(runErr).Code() == pkgerrors.CodeConflict {
				skipped++
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("clinic %s: %w", clinicID, runErr))
			continue
		}
		if record.Status == enums.BackupStatusCompleted {
			completed++
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"clinics":   len(ids),
		"completed": completed,
		"skipped":   skipped,
	})
	j.logg.Info(logCtx, "nightly backup loop complete")
	return errs
}
