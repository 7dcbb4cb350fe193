package backups

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fisiohub/clinic-backend/internal/audit"
	"github.com/fisiohub/clinic-backend/internal/events"
	"github.com/fisiohub/clinic-backend/pkg/config"
	"github.com/fisiohub/clinic-backend/pkg/db/models"
	"github.com/fisiohub/clinic-backend/pkg/enums"
	pkgerrors "github.com/fisiohub/clinic-backend/pkg/errors"
	"github.com/fisiohub/clinic-backend/pkg/logger"
	"github.com/fisiohub/clinic-backend/pkg/pagination"
)

// Triggers recorded on backup runs.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

// EventBus records a system event and dispatches it to subscribers.
type EventBus interface {
	Trigger(ctx context.Context, input events.TriggerInput) (*models.SystemEvent, error)
}

// ListParams configures backup record listing.
type ListParams struct {
	ClinicID uuid.UUID
	Limit    int
	Cursor   string
}

// ListResult wraps backup records and the next-page cursor.
type ListResult struct {
	Items  []models.BackupRecord `json:"items"`
	Cursor string                `json:"cursor"`
}

// Service runs and tracks clinic backups.
type Service interface {
	Run(ctx context.Context, clinicID, actorUserID uuid.UUID, trigger string) (*models.BackupRecord, error)
	GetByID(ctx context.Context, clinicID, recordID uuid.UUID) (*models.BackupRecord, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type service struct {
	repo   Repository
	source SnapshotSource
	bus    EventBus
	audit  audit.Service
	logg   *logger.Logger
	cfg    config.BackupsConfig

	mtx     sync.Mutex
	running map[uuid.UUID]struct{}
}

// NewService wires the backup service. The audit service is optional.
func NewService(repo Repository, source SnapshotSource, bus EventBus, auditSvc audit.Service, logg *logger.Logger, cfg config.BackupsConfig) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "backups repository required")
	}
	if source == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "snapshot source required")
	}
	if bus == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "event bus required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &service{
		repo:    repo,
		source:  source,
		bus:     bus,
		audit:   auditSvc,
		logg:    logg,
		cfg:     cfg,
		running: make(map[uuid.UUID]struct{}),
	}, nil
}

// Run executes a backup for the clinic. At most one backup per clinic runs
// at a time; a second call while one is in flight is a conflict. The run is
// bounded by the configured timeout and honors caller cancellation.
func (s *service) Run(ctx context.Context, clinicID, actorUserID uuid.UUID, trigger string) (*models.BackupRecord, error) {
	if clinicID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic id required")
	}
	if trigger != TriggerManual && trigger != TriggerScheduled {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trigger must be manual or scheduled")
	}

	if !s.acquire(clinicID) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "a backup is already running for this clinic")
	}
	defer s.release(clinicID)

	record := &models.BackupRecord{
		ClinicID:  clinicID,
		Status:    enums.BackupStatusRunning,
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create backup record")
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	snapshot, runErr := s.collect(runCtx, clinicID)
	now := time.Now().UTC()
	record.FinishedAt = &now

	if runErr != nil {
		record.Status = enums.BackupStatusFailed
		if errors.Is(runErr, context.Canceled) {
			record.Status = enums.BackupStatusCancelled
		}
		message := runErr.Error()
		record.Error = &message

		// The record update uses a fresh context, the run context may
		// already be dead.
		if err := s.repo.Update(context.WithoutCancel(ctx), record); err != nil {
			s.logg.Error(ctx, "failed to persist backup failure", err)
		}
		s.trigger(ctx, record, actorUserID, enums.EventBackupFailed, map[string]any{
			"backupId": record.ID.String(),
			"error":    message,
		})
		return record, pkgerrors.Wrap(pkgerrors.CodeInternal, runErr, "backup run failed")
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode backup payload")
	}
	record.Status = enums.BackupStatusCompleted
	record.Payload = payload
	record.SizeBytes = int64(len(payload))
	record.PatientCount = len(snapshot.Patients)
	if err := s.repo.Update(ctx, record); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist backup result")
	}

	s.recordAudit(ctx, record, actorUserID)
	s.trigger(ctx, record, actorUserID, enums.EventBackupCompleted, map[string]any{
		"backupId":     record.ID.String(),
		"patientCount": record.PatientCount,
		"sizeBytes":    record.SizeBytes,
	})
	return record, nil
}

func (s *service) collect(ctx context.Context, clinicID uuid.UUID) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snapshot, err := s.source.Collect(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (s *service) GetByID(ctx context.Context, clinicID, recordID uuid.UUID) (*models.BackupRecord, error) {
	if clinicID == uuid.Nil || recordID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic id and backup id required")
	}
	record, err := s.repo.GetByID(ctx, clinicID, recordID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "backup not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load backup")
	}
	return record, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.ClinicID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic id required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	items, next, err := s.repo.ListByClinic(ctx, params.ClinicID, params.Limit, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list backups")
	}

	result := &ListResult{Items: items}
	if next != nil {
		result.Cursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

func (s *service) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	count, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete old backups")
	}
	return count, nil
}

func (s *service) acquire(clinicID uuid.UUID) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, busy := s.running[clinicID]; busy {
		return false
	}
	s.running[clinicID] = struct{}{}
	return true
}

func (s *service) release(clinicID uuid.UUID) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	delete(s.running, clinicID)
}

func (s *service) trigger(ctx context.Context, record *models.BackupRecord, actorUserID uuid.UUID, eventType enums.SystemEventType, data map[string]any) {
	var userID *uuid.UUID
	if actorUserID != uuid.Nil {
		userID = &actorUserID
	}
	_, err := s.bus.Trigger(context.WithoutCancel(ctx), events.TriggerInput{
		ClinicID:   record.ClinicID,
		UserID:     userID,
		Module:     enums.ModuleBackups,
		Type:       eventType,
		Data:       data,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		s.logg.Error(s.logg.WithFields(ctx, map[string]any{
			"backup_id":  record.ID.String(),
			"event_type": string(eventType),
		}), "failed to trigger backup event", err)
	}
}

func (s *service) recordAudit(ctx context.Context, record *models.BackupRecord, actorUserID uuid.UUID) {
	if s.audit == nil {
		return
	}
	var actor *uuid.UUID
	if actorUserID != uuid.Nil {
		actor = &actorUserID
	}
	resourceID := record.ID
	err := s.audit.Record(ctx, audit.Entry{
		ClinicID:     record.ClinicID,
		ActorUserID:  actor,
		Module:       enums.ModuleBackups,
		Action:       "backup.run",
		ResourceType: "backup",
		ResourceID:   &resourceID,
		Metadata: map[string]any{
			"trigger":      record.Trigger,
			"patientCount": record.PatientCount,
		},
	})
	if err != nil {
		s.logg.Error(s.logg.WithField(ctx, "backup_id", record.ID.String()), "failed to record audit entry", err)
	}
}
