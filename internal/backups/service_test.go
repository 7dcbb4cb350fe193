package backups

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fisiohub/clinic-backend/internal/events"
	"github.com/fisiohub/clinic-backend/pkg/config"
	"github.com/fisiohub/clinic-backend/pkg/db/models"
	"github.com/fisiohub/clinic-backend/pkg/enums"
	pkgerrors "github.com/fisiohub/clinic-backend/pkg/errors"
	"github.com/fisiohub/clinic-backend/pkg/logger"
	"github.com/fisiohub/clinic-backend/pkg/pagination"
)

type fakeRepository struct {
	mtx     sync.Mutex
	records map[uuid.UUID]*models.BackupRecord
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{records: make(map[uuid.UUID]*models.BackupRecord)}
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepository) Create(ctx context.Context, record *models.BackupRecord) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.CreatedAt = time.Now().UTC()
	copied := *record
	f.records[record.ID] = &copied
	return nil
}

func (f *fakeRepository) Update(ctx context.Context, record *models.BackupRecord) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	copied := *record
	f.records[record.ID] = &copied
	return nil
}

func (f *fakeRepository) GetByID(ctx context.Context, clinicID, recordID uuid.UUID) (*models.BackupRecord, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	record, ok := f.records[recordID]
	if !ok || record.ClinicID != clinicID {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *record
	return &copied, nil
}

func (f *fakeRepository) ListByClinic(ctx context.Context, clinicID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.BackupRecord, *pagination.Cursor, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	var items []models.BackupRecord
	for _, record := range f.records {
		if record.ClinicID == clinicID {
			items = append(items, *record)
		}
	}
	return items, nil, nil
}

func (f *fakeRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	var deleted int64
	for id, record := range f.records {
		if record.CreatedAt.Before(cutoff) && record.Status != enums.BackupStatusRunning {
			delete(f.records, id)
			deleted++
		}
	}
	return deleted, nil
}

type fakeSource struct {
	mtx       sync.Mutex
	enterOnce sync.Once
	fail      error
	block     chan struct{}
	entered   chan struct{}

	patients []models.Patient
}

func (f *fakeSource) Collect(ctx context.Context, clinicID uuid.UUID) (*Snapshot, error) {
	if f.entered != nil {
		f.enterOnce.Do(func() { close(f.entered) })
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail != nil {
		return nil, f.fail
	}
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return &Snapshot{
		ClinicID:   clinicID,
		ExportedAt: time.Now().UTC(),
		Patients:   f.patients,
	}, nil
}

type fakeBus struct {
	mtx       sync.Mutex
	triggered []events.TriggerInput
}

func (f *fakeBus) Trigger(ctx context.Context, input events.TriggerInput) (*models.SystemEvent, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.triggered = append(f.triggered, input)
	return &models.SystemEvent{ID: uuid.New()}, nil
}

func (f *fakeBus) events() []events.TriggerInput {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	out := make([]events.TriggerInput, len(f.triggered))
	copy(out, f.triggered)
	return out
}

func newTestService(t *testing.T, source *fakeSource, cfg config.BackupsConfig) (Service, *fakeRepository, *fakeBus) {
	t.Helper()
	repo := newFakeRepository()
	bus := &fakeBus{}
	svc, err := NewService(repo, source, bus, nil, logger.New(logger.Options{ServiceName: "backups-test"}), cfg)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	return svc, repo, bus
}

func TestRunCompletesAndEmitsEvent(t *testing.T) {
	source := &fakeSource{patients: []models.Patient{
		{ID: uuid.New(), FullName: "Maria Souza"},
		{ID: uuid.New(), FullName: "Carlos Lima"},
	}}
	svc, repo, bus := newTestService(t, source, config.BackupsConfig{Timeout: time.Second})
	clinicID := uuid.New()

	record, err := svc.Run(context.Background(), clinicID, uuid.New(), TriggerManual)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if record.Status != enums.BackupStatusCompleted {
		t.Fatalf("expected completed, got %q", record.Status)
	}
	if record.PatientCount != 2 {
		t.Fatalf("expected patient count 2, got %d", record.PatientCount)
	}
	if record.SizeBytes != int64(len(record.Payload)) || record.SizeBytes == 0 {
		t.Fatalf("size bytes wrong: %d vs payload %d", record.SizeBytes, len(record.Payload))
	}
	if record.FinishedAt == nil {
		t.Fatal("expected FinishedAt to be set")
	}

	var snapshot Snapshot
	if err := json.Unmarshal(record.Payload, &snapshot); err != nil {
		t.Fatalf("payload is not a snapshot: %v", err)
	}
	if len(snapshot.Patients) != 2 {
		t.Fatalf("payload patients wrong: %d", len(snapshot.Patients))
	}

	stored, ok := repo.records[record.ID]
	if !ok || stored.Status != enums.BackupStatusCompleted {
		t.Fatalf("record not persisted as completed: %+v", stored)
	}

	triggered := bus.events()
	if len(triggered) != 1 || triggered[0].Type != enums.EventBackupCompleted {
		t.Fatalf("expected backup_completed event, got %v", triggered)
	}
	if triggered[0].Module != enums.ModuleBackups {
		t.Fatalf("expected backups module, got %q", triggered[0].Module)
	}
}

func TestRunFailureEmitsBackupFailed(t *testing.T) {
	source := &fakeSource{fail: pkgerrors.New(pkgerrors.CodeInternal, "export broke")}
	svc, _, bus := newTestService(t, source, config.BackupsConfig{Timeout: time.Second})

	record, err := svc.Run(context.Background(), uuid.New(), uuid.Nil, TriggerScheduled)
	if err == nil {
		t.Fatal("expected error from failed run")
	}
	if record.Status != enums.BackupStatusFailed {
		t.Fatalf("expected failed status, got %q", record.Status)
	}
	if record.Error == nil {
		t.Fatal("expected error message on record")
	}

	triggered := bus.events()
	if len(triggered) != 1 || triggered[0].Type != enums.EventBackupFailed {
		t.Fatalf("expected backup_failed event, got %v", triggered)
	}
}

func TestRunTimesOut(t *testing.T) {
	source := &fakeSource{block: make(chan struct{})}
	svc, _, _ := newTestService(t, source, config.BackupsConfig{Timeout: 20 * time.Millisecond})

	record, err := svc.Run(context.Background(), uuid.New(), uuid.Nil, TriggerManual)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if record.Status != enums.BackupStatusFailed {
		t.Fatalf("expected failed status on timeout, got %q", record.Status)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	source := &fakeSource{block: make(chan struct{}), entered: make(chan struct{})}
	svc, _, _ := newTestService(t, source, config.BackupsConfig{Timeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-source.entered
		cancel()
	}()

	record, err := svc.Run(ctx, uuid.New(), uuid.Nil, TriggerManual)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if record.Status != enums.BackupStatusCancelled {
		t.Fatalf("expected cancelled status, got %q", record.Status)
	}
}

func TestRunRejectsConcurrentRunForSameClinic(t *testing.T) {
	source := &fakeSource{block: make(chan struct{}), entered: make(chan struct{})}
	svc, _, _ := newTestService(t, source, config.BackupsConfig{Timeout: time.Second})
	clinicID := uuid.New()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.Run(context.Background(), clinicID, uuid.Nil, TriggerManual)
	}()
	<-source.entered

	_, err := svc.Run(context.Background(), clinicID, uuid.Nil, TriggerManual)
	if pkgerrors.As(err).Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict for concurrent run, got %v", err)
	}

	close(source.block)
	<-done

	// The slot frees up once the first run finishes.
	if _, err := svc.Run(context.Background(), clinicID, uuid.Nil, TriggerManual); err != nil {
		t.Fatalf("run after release should succeed, got %v", err)
	}
}

func TestRunAllowsDifferentClinicsConcurrently(t *testing.T) {
	source := &fakeSource{block: make(chan struct{}), entered: make(chan struct{})}
	svc, _, _ := newTestService(t, source, config.BackupsConfig{Timeout: time.Second})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.Run(context.Background(), uuid.New(), uuid.Nil, TriggerManual)
	}()
	<-source.entered

	otherSourceDone := make(chan error, 1)
	go func() {
		_, err := svc.Run(context.Background(), uuid.New(), uuid.Nil, TriggerManual)
		otherSourceDone <- err
	}()

	close(source.block)
	<-done
	if err := <-otherSourceDone; err != nil {
		t.Fatalf("other clinic run should succeed, got %v", err)
	}
}

func TestRunValidatesTrigger(t *testing.T) {
	source := &fakeSource{}
	svc, _, _ := newTestService(t, source, config.BackupsConfig{Timeout: time.Second})

	_, err := svc.Run(context.Background(), uuid.New(), uuid.Nil, "adhoc")
	if pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}
