package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fisiohub/clinic-backend/internal/backups"
	"github.com/fisiohub/clinic-backend/pkg/db/models"
	"github.com/fisiohub/clinic-backend/pkg/enums"
	pkgerrors "github.com/fisiohub/clinic-backend/pkg/errors"
	"github.com/fisiohub/clinic-backend/pkg/logger"
)

type fakeNotificationStore struct {
	expired     int64
	stale       int64
	expiredAt   time.Time
	staleCutoff time.Time
	expiredErr  error
}

func (f *fakeNotificationStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	f.expiredAt = now
	return f.expired, f.expiredErr
}

func (f *fakeNotificationStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.staleCutoff = cutoff
	return f.stale, nil
}

func TestNotificationCleanupJobSweepsExpiredAndStale(t *testing.T) {
	store := &fakeNotificationStore{expired: 3, stale: 7}
	job, err := NewNotificationCleanupJob(NotificationCleanupJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "cron-test"}),
		Repository: store,
		Retention:  10,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run job: %v", err)
	}
	wantCutoff := store.expiredAt.Add(-10 * 24 * time.Hour)
	if !store.staleCutoff.Equal(wantCutoff) {
		t.Fatalf("cutoff mismatch: got %v, want %v", store.staleCutoff, wantCutoff)
	}
}

func TestNotificationCleanupJobPropagatesErrors(t *testing.T) {
	store := &fakeNotificationStore{expiredErr: errors.New("db down")}
	job, err := NewNotificationCleanupJob(NotificationCleanupJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "cron-test"}),
		Repository: store,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error from failing sweep")
	}
}

type retentionStore struct {
	cutoff  time.Time
	deleted int64
}

func (r *retentionStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.cutoff = cutoff
	return r.deleted, nil
}

func TestAuditRetentionJobUsesConfiguredWindow(t *testing.T) {
	store := &retentionStore{deleted: 12}
	job, err := NewAuditRetentionJob(AuditRetentionJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "cron-test"}),
		Audit:     store,
		Retention: 30,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	before := time.Now().UTC().Add(-30 * 24 * time.Hour)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run job: %v", err)
	}
	after := time.Now().UTC().Add(-30 * 24 * time.Hour)
	if store.cutoff.Before(before) || store.cutoff.After(after) {
		t.Fatalf("cutoff %v outside expected window [%v, %v]", store.cutoff, before, after)
	}
}

func TestBackupRetentionJobDefaultsRetention(t *testing.T) {
	store := &retentionStore{}
	job, err := NewBackupRetentionJob(BackupRetentionJobParams{
		Logger:  logger.New(logger.Options{ServiceName: "cron-test"}),
		Backups: store,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run job: %v", err)
	}
	wantEarliest := time.Now().UTC().Add(-time.Duration(backupRetentionDays)*24*time.Hour - time.Minute)
	if store.cutoff.Before(wantEarliest) {
		t.Fatalf("cutoff %v older than the default retention window", store.cutoff)
	}
}

type fakeOutboxStore struct {
	cutoff time.Time
}

func (f *fakeOutboxStore) DeletePublishedBefore(cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 2, nil
}

func TestOutboxRetentionJobDeletesPublishedRows(t *testing.T) {
	store := &fakeOutboxStore{}
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "cron-test"}),
		Outbox:    store,
		Retention: 5,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run job: %v", err)
	}
	if store.cutoff.IsZero() {
		t.Fatal("expected a cutoff to be passed to the repository")
	}
}

type fakeClinicLister struct {
	ids []uuid.UUID
}

func (f *fakeClinicLister) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	return f.ids, nil
}

type fakeBackupRunner struct {
	errsByClinic map[uuid.UUID]error
	ran          []uuid.UUID
	triggers     []string
}

func (f *fakeBackupRunner) Run(ctx context.Context, clinicID, actorUserID uuid.UUID, trigger string) (*models.BackupRecord, error) {
	f.ran = append(f.ran, clinicID)
	f.triggers = append(f.triggers, trigger)
	if err := f.errsByClinic[clinicID]; err != nil {
		return nil, err
	}
	return &models.BackupRecord{ClinicID: clinicID, Status: enums.BackupStatusCompleted}, nil
}

func TestBackupJobRunsEveryClinic(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	runner := &fakeBackupRunner{}
	job, err := NewBackupJob(BackupJobParams{
		Logger:  logger.New(logger.Options{ServiceName: "cron-test"}),
		Clinics: &fakeClinicLister{ids: ids},
		Backups: runner,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run job: %v", err)
	}
	if len(runner.ran) != len(ids) {
		t.Fatalf("expected %d backups, ran %d", len(ids), len(runner.ran))
	}
	for _, trigger := range runner.triggers {
		if trigger != backups.TriggerScheduled {
			t.Fatalf("expected scheduled trigger, got %q", trigger)
		}
	}
}

func TestBackupJobContinuesPastFailures(t *testing.T) {
	broken := uuid.New()
	busy := uuid.New()
	healthy := uuid.New()
	runner := &fakeBackupRunner{errsByClinic: map[uuid.UUID]error{
		broken: pkgerrors.New(pkgerrors.CodeInternal, "export failed"),
		busy:   pkgerrors.New(pkgerrors.CodeConflict, "backup already running for clinic"),
	}}
	job, err := NewBackupJob(BackupJobParams{
		Logger:  logger.New(logger.Options{ServiceName: "cron-test"}),
		Clinics: &fakeClinicLister{ids: []uuid.UUID{broken, busy, healthy}},
		Backups: runner,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	err = job.Run(context.Background())
	if err == nil {
		t.Fatal("expected aggregated error from the failing clinic")
	}
	if len(runner.ran) != 3 {
		t.Fatalf("all clinics should be attempted, ran %d", len(runner.ran))
	}
}
