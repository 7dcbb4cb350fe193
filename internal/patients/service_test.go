package patients

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fisiohub/clinic-backend/internal/audit"
	"github.com/fisiohub/clinic-backend/internal/events"
	"github.com/fisiohub/clinic-backend/pkg/db/models"
	"github.com/fisiohub/clinic-backend/pkg/enums"
	pkgerrors "github.com/fisiohub/clinic-backend/pkg/errors"
	"github.com/fisiohub/clinic-backend/pkg/logger"
	"github.com/fisiohub/clinic-backend/pkg/pagination"
)

type fakeRepository struct {
	mtx      sync.Mutex
	patients map[uuid.UUID]*models.Patient
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{patients: make(map[uuid.UUID]*models.Patient)}
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepository) Create(ctx context.Context, patient *models.Patient) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if patient.ID == uuid.Nil {
		patient.ID = uuid.New()
	}
	patient.CreatedAt = time.Now().UTC()
	copied := *patient
	f.patients[patient.ID] = &copied
	return nil
}

func (f *fakeRepository) Update(ctx context.Context, patient *models.Patient) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	copied := *patient
	f.patients[patient.ID] = &copied
	return nil
}

func (f *fakeRepository) GetByID(ctx context.Context, clinicID, patientID uuid.UUID) (*models.Patient, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	patient, ok := f.patients[patientID]
	if !ok || patient.ClinicID != clinicID {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *patient
	return &copied, nil
}

func (f *fakeRepository) List(ctx context.Context, params listParams) ([]models.Patient, *pagination.Cursor, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	var items []models.Patient
	for _, patient := range f.patients {
		if patient.ClinicID != params.ClinicID {
			continue
		}
		if params.Status != "" && patient.Status != params.Status {
			continue
		}
		items = append(items, *patient)
	}
	return items, nil, nil
}

func (f *fakeRepository) CountByClinic(ctx context.Context, clinicID uuid.UUID) (int64, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	var count int64
	for _, patient := range f.patients {
		if patient.ClinicID == clinicID {
			count++
		}
	}
	return count, nil
}

type fakeBus struct {
	mtx       sync.Mutex
	triggered []events.TriggerInput
	err       error
}

func (f *fakeBus) Trigger(ctx context.Context, input events.TriggerInput) (*models.SystemEvent, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.err != nil {
		return nil, f.err
	}
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

type fakeAudit struct {
	mtx     sync.Mutex
	entries []audit.Entry
}

func (f *fakeAudit) Record(ctx context.Context, entry audit.Entry) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAudit) List(ctx context.Context, params audit.ListParams) (*audit.ListResult, error) {
	return &audit.ListResult{}, nil
}

func (f *fakeAudit) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func newTestService(t *testing.T) (Service, *fakeRepository, *fakeBus, *fakeAudit) {
	t.Helper()
	repo := newFakeRepository()
	bus := &fakeBus{}
	auditSvc := &fakeAudit{}
	logg := logger.New(logger.Options{ServiceName: "patients-test"})
	svc, err := NewService(repo, bus, auditSvc, logg)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	return svc, repo, bus, auditSvc
}

func strPtr(s string) *string { return &s }

func TestCreateValidatesInput(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	tests := []struct {
		name  string
		input CreateInput
	}{
		{"missing clinic", CreateInput{CreatedBy: uuid.New(), FullName: "Maria Souza"}},
		{"missing creator", CreateInput{ClinicID: uuid.New(), FullName: "Maria Souza"}},
		{"blank name", CreateInput{ClinicID: uuid.New(), CreatedBy: uuid.New(), FullName: "   "}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tc.input)
			if pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCreateEmitsEventAndAudit(t *testing.T) {
	svc, repo, bus, auditSvc := newTestService(t)
	clinicID := uuid.New()
	actorID := uuid.New()

	patient, err := svc.Create(context.Background(), CreateInput{
		ClinicID:  clinicID,
		CreatedBy: actorID,
		FullName:  "  Maria Souza  ",
		Diagnosis: strPtr("lombalgia"),
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if patient.FullName != "Maria Souza" {
		t.Fatalf("expected trimmed name, got %q", patient.FullName)
	}
	if patient.Status != enums.PatientStatusActive {
		t.Fatalf("expected active status, got %q", patient.Status)
	}
	if _, ok := repo.patients[patient.ID]; !ok {
		t.Fatal("patient not persisted")
	}

	triggered := bus.events()
	if len(triggered) != 1 {
		t.Fatalf("expected 1 event, got %d", len(triggered))
	}
	evt := triggered[0]
	if evt.Type != enums.EventPatientCreated {
		t.Fatalf("expected patient_created, got %q", evt.Type)
	}
	if evt.Module != enums.ModulePatients {
		t.Fatalf("expected patients module, got %q", evt.Module)
	}
	if evt.Data["patientName"] != "Maria Souza" {
		t.Fatalf("expected patientName in event data, got %v", evt.Data)
	}
	if evt.Data["patientId"] != patient.ID.String() {
		t.Fatalf("expected patientId in event data, got %v", evt.Data)
	}
	if evt.UserID == nil || *evt.UserID != actorID {
		t.Fatalf("expected actor user id on event, got %v", evt.UserID)
	}

	if len(auditSvc.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(auditSvc.entries))
	}
	if auditSvc.entries[0].Action != "patient.create" {
		t.Fatalf("unexpected audit action %q", auditSvc.entries[0].Action)
	}
}

func TestCreateSucceedsWhenBusFails(t *testing.T) {
	svc, repo, bus, _ := newTestService(t)
	bus.err = pkgerrors.New(pkgerrors.CodeInternal, "bus down")

	patient, err := svc.Create(context.Background(), CreateInput{
		ClinicID:  uuid.New(),
		CreatedBy: uuid.New(),
		FullName:  "Carlos Lima",
	})
	if err != nil {
		t.Fatalf("Create should tolerate event failures, got %v", err)
	}
	if _, ok := repo.patients[patient.ID]; !ok {
		t.Fatal("patient not persisted")
	}
}

func TestUpdateAppliesPartialChanges(t *testing.T) {
	svc, _, bus, _ := newTestService(t)
	clinicID := uuid.New()
	actorID := uuid.New()

	patient, err := svc.Create(context.Background(), CreateInput{
		ClinicID:  clinicID,
		CreatedBy: actorID,
		FullName:  "Maria Souza",
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	discharged := enums.PatientStatusDischarged
	updated, err := svc.Update(context.Background(), UpdateInput{
		ClinicID:    clinicID,
		PatientID:   patient.ID,
		ActorUserID: actorID,
		Phone:       strPtr("+55 11 91234-5678"),
		Status:      &discharged,
	})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if updated.FullName != "Maria Souza" {
		t.Fatalf("name should be untouched, got %q", updated.FullName)
	}
	if updated.Phone == nil || *updated.Phone != "+55 11 91234-5678" {
		t.Fatalf("phone not applied: %v", updated.Phone)
	}
	if updated.Status != enums.PatientStatusDischarged {
		t.Fatalf("status not applied: %q", updated.Status)
	}

	triggered := bus.events()
	if len(triggered) != 2 || triggered[1].Type != enums.EventPatientUpdated {
		t.Fatalf("expected patient_updated event, got %v", triggered)
	}
}

func TestUpdateRejectsUnknownPatient(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.Update(context.Background(), UpdateInput{
		ClinicID:  uuid.New(),
		PatientID: uuid.New(),
	})
	if pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateEnforcesClinicScope(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	patient, err := svc.Create(context.Background(), CreateInput{
		ClinicID:  uuid.New(),
		CreatedBy: uuid.New(),
		FullName:  "Maria Souza",
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	_, err = svc.Update(context.Background(), UpdateInput{
		ClinicID:  uuid.New(),
		PatientID: patient.ID,
		FullName:  strPtr("Hacked"),
	})
	if pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("cross-clinic update should be not found, got %v", err)
	}
}

func TestArchiveIsIdempotent(t *testing.T) {
	svc, _, bus, _ := newTestService(t)
	clinicID := uuid.New()
	actorID := uuid.New()

	patient, err := svc.Create(context.Background(), CreateInput{
		ClinicID:  clinicID,
		CreatedBy: actorID,
		FullName:  "Maria Souza",
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	archived, err := svc.Archive(context.Background(), clinicID, patient.ID, actorID)
	if err != nil {
		t.Fatalf("Archive returned error: %v", err)
	}
	if archived.Status != enums.PatientStatusArchived {
		t.Fatalf("expected archived status, got %q", archived.Status)
	}

	if _, err := svc.Archive(context.Background(), clinicID, patient.ID, actorID); err != nil {
		t.Fatalf("second Archive returned error: %v", err)
	}

	var archiveEvents int
	for _, evt := range bus.events() {
		if evt.Type == enums.EventPatientArchived {
			archiveEvents++
		}
	}
	if archiveEvents != 1 {
		t.Fatalf("expected a single patient_archived event, got %d", archiveEvents)
	}
}

func TestListRejectsInvalidStatusFilter(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.List(context.Background(), ListParams{ClinicID: uuid.New(), Status: "frozen"})
	if pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListFiltersByClinic(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	clinicA := uuid.New()
	clinicB := uuid.New()
	actorID := uuid.New()

	for _, clinicID := range []uuid.UUID{clinicA, clinicA, clinicB} {
		_, err := svc.Create(context.Background(), CreateInput{
			ClinicID:  clinicID,
			CreatedBy: actorID,
			FullName:  "Paciente Teste",
		})
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}

	result, err := svc.List(context.Background(), ListParams{ClinicID: clinicA})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(result.Items) != 2 {
		t.Fatalf("expected 2 patients for clinic A, got %d", len(result.Items))
	}
}
