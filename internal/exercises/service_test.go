package exercises

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fisiohub/clinic-backend/internal/events"
	"github.com/fisiohub/clinic-backend/pkg/db/models"
	"github.com/fisiohub/clinic-backend/pkg/enums"
	pkgerrors "github.com/fisiohub/clinic-backend/pkg/errors"
	"github.com/fisiohub/clinic-backend/pkg/logger"
	"github.com/fisiohub/clinic-backend/pkg/pagination"
)

type fakeRepository struct {
	mtx           sync.Mutex
	exercises     map[uuid.UUID]*models.Exercise
	prescriptions map[uuid.UUID]*models.ExercisePrescription
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		exercises:     make(map[uuid.UUID]*models.Exercise),
		prescriptions: make(map[uuid.UUID]*models.ExercisePrescription),
	}
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepository) CreateExercise(ctx context.Context, exercise *models.Exercise) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if exercise.ID == uuid.Nil {
		exercise.ID = uuid.New()
	}
	exercise.CreatedAt = time.Now().UTC()
	copied := *exercise
	f.exercises[exercise.ID] = &copied
	return nil
}

func (f *fakeRepository) UpdateExercise(ctx context.Context, exercise *models.Exercise) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	copied := *exercise
	f.exercises[exercise.ID] = &copied
	return nil
}

func (f *fakeRepository) GetExercise(ctx context.Context, clinicID, exerciseID uuid.UUID) (*models.Exercise, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	exercise, ok := f.exercises[exerciseID]
	if !ok || exercise.ClinicID != clinicID {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *exercise
	return &copied, nil
}

func (f *fakeRepository) ListExercises(ctx context.Context, params listParams) ([]models.Exercise, *pagination.Cursor, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	var items []models.Exercise
	for _, exercise := range f.exercises {
		if exercise.ClinicID != params.ClinicID {
			continue
		}
		if params.BodyRegion != "" {
			found := false
			for _, region := range exercise.BodyRegions {
				if region == params.BodyRegion {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		items = append(items, *exercise)
	}
	return items, nil, nil
}

func (f *fakeRepository) CreatePrescription(ctx context.Context, prescription *models.ExercisePrescription) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if prescription.ID == uuid.Nil {
		prescription.ID = uuid.New()
	}
	prescription.CreatedAt = time.Now().UTC()
	copied := *prescription
	f.prescriptions[prescription.ID] = &copied
	return nil
}

func (f *fakeRepository) UpdatePrescription(ctx context.Context, prescription *models.ExercisePrescription) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	copied := *prescription
	f.prescriptions[prescription.ID] = &copied
	return nil
}

func (f *fakeRepository) GetPrescription(ctx context.Context, clinicID, prescriptionID uuid.UUID) (*models.ExercisePrescription, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	prescription, ok := f.prescriptions[prescriptionID]
	if !ok || prescription.ClinicID != clinicID {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *prescription
	return &copied, nil
}

func (f *fakeRepository) ListPrescriptionsByPatient(ctx context.Context, clinicID, patientID uuid.UUID) ([]models.ExercisePrescription, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	var items []models.ExercisePrescription
	for _, prescription := range f.prescriptions {
		if prescription.ClinicID == clinicID && prescription.PatientID == patientID {
			items = append(items, *prescription)
		}
	}
	return items, nil
}

type fakePatients struct {
	patients map[uuid.UUID]*models.Patient
}

func (f *fakePatients) GetByID(ctx context.Context, clinicID, patientID uuid.UUID) (*models.Patient, error) {
	patient, ok := f.patients[patientID]
	if !ok || patient.ClinicID != clinicID {
		return nil, gorm.ErrRecordNotFound
	}
	return patient, nil
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

type fixture struct {
	svc       Service
	repo      *fakeRepository
	bus       *fakeBus
	clinicID  uuid.UUID
	patientID uuid.UUID
	physioID  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newFakeRepository()
	bus := &fakeBus{}
	f := &fixture{
		repo:      repo,
		bus:       bus,
		clinicID:  uuid.New(),
		patientID: uuid.New(),
		physioID:  uuid.New(),
	}
	patients := &fakePatients{patients: map[uuid.UUID]*models.Patient{
		f.patientID: {
			ID:       f.patientID,
			ClinicID: f.clinicID,
			FullName: "Maria Souza",
			Status:   enums.PatientStatusActive,
		},
	}}

	svc, err := NewService(repo, patients, bus, nil, logger.New(logger.Options{ServiceName: "exercises-test"}))
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	f.svc = svc
	return f
}

func (f *fixture) createExercise(t *testing.T, name string, regions ...string) *models.Exercise {
	t.Helper()
	exercise, err := f.svc.CreateExercise(context.Background(), ExerciseInput{
		ClinicID:    f.clinicID,
		Name:        name,
		BodyRegions: regions,
	})
	if err != nil {
		t.Fatalf("CreateExercise returned error: %v", err)
	}
	return exercise
}

func TestCreateExerciseNormalizesRegions(t *testing.T) {
	f := newFixture(t)

	exercise := f.createExercise(t, "Ponte de glúteos", " Lombar ", "", "Quadril")
	if len(exercise.BodyRegions) != 2 {
		t.Fatalf("expected 2 regions, got %v", exercise.BodyRegions)
	}
	if exercise.BodyRegions[0] != "lombar" || exercise.BodyRegions[1] != "quadril" {
		t.Fatalf("regions not normalized: %v", exercise.BodyRegions)
	}
}

func TestCreateExerciseValidatesName(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateExercise(context.Background(), ExerciseInput{ClinicID: f.clinicID, Name: "  "})
	if pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPrescribeEmitsEvent(t *testing.T) {
	f := newFixture(t)
	exercise := f.createExercise(t, "Ponte de glúteos", "lombar")

	prescription, err := f.svc.Prescribe(context.Background(), PrescribeInput{
		ClinicID:     f.clinicID,
		PatientID:    f.patientID,
		ExerciseID:   exercise.ID,
		PrescribedBy: f.physioID,
		Sets:         3,
		Reps:         12,
		Frequency:    "3x por semana",
	})
	if err != nil {
		t.Fatalf("Prescribe returned error: %v", err)
	}
	if prescription.Sets != 3 || prescription.Reps != 12 {
		t.Fatalf("dosage not applied: %+v", prescription)
	}

	if len(f.bus.triggered) != 1 {
		t.Fatalf("expected 1 event, got %d", len(f.bus.triggered))
	}
	evt := f.bus.triggered[0]
	if evt.Type != enums.EventExercisePrescribed || evt.Module != enums.ModuleExercises {
		t.Fatalf("unexpected event %q/%q", evt.Type, evt.Module)
	}
	if evt.Data["patientName"] != "Maria Souza" || evt.Data["exerciseName"] != "Ponte de glúteos" {
		t.Fatalf("event data incomplete: %v", evt.Data)
	}
}

func TestPrescribeValidatesDosage(t *testing.T) {
	f := newFixture(t)
	exercise := f.createExercise(t, "Agachamento")

	tests := []struct {
		name  string
		input PrescribeInput
	}{
		{"zero sets", PrescribeInput{ClinicID: f.clinicID, PatientID: f.patientID, ExerciseID: exercise.ID, PrescribedBy: f.physioID, Sets: 0, Reps: 10, Frequency: "diária"}},
		{"zero reps", PrescribeInput{ClinicID: f.clinicID, PatientID: f.patientID, ExerciseID: exercise.ID, PrescribedBy: f.physioID, Sets: 3, Reps: 0, Frequency: "diária"}},
		{"blank frequency", PrescribeInput{ClinicID: f.clinicID, PatientID: f.patientID, ExerciseID: exercise.ID, PrescribedBy: f.physioID, Sets: 3, Reps: 10, Frequency: " "}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Prescribe(context.Background(), tc.input)
			if pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestPrescribeRejectsUnknownExercise(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Prescribe(context.Background(), PrescribeInput{
		ClinicID:     f.clinicID,
		PatientID:    f.patientID,
		ExerciseID:   uuid.New(),
		PrescribedBy: f.physioID,
		Sets:         3,
		Reps:         10,
		Frequency:    "diária",
	})
	if pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPrescribeRejectsCrossClinicPatient(t *testing.T) {
	f := newFixture(t)
	exercise := f.createExercise(t, "Agachamento")

	_, err := f.svc.Prescribe(context.Background(), PrescribeInput{
		ClinicID:     f.clinicID,
		PatientID:    uuid.New(),
		ExerciseID:   exercise.ID,
		PrescribedBy: f.physioID,
		Sets:         3,
		Reps:         10,
		Frequency:    "diária",
	})
	if pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found for foreign patient, got %v", err)
	}
}

func TestEndPrescriptionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	exercise := f.createExercise(t, "Agachamento")

	prescription, err := f.svc.Prescribe(context.Background(), PrescribeInput{
		ClinicID:     f.clinicID,
		PatientID:    f.patientID,
		ExerciseID:   exercise.ID,
		PrescribedBy: f.physioID,
		Sets:         3,
		Reps:         10,
		Frequency:    "diária",
	})
	if err != nil {
		t.Fatalf("Prescribe returned error: %v", err)
	}

	ended, err := f.svc.EndPrescription(context.Background(), f.clinicID, prescription.ID, f.physioID)
	if err != nil {
		t.Fatalf("EndPrescription returned error: %v", err)
	}
	if ended.EndsAt == nil {
		t.Fatal("expected EndsAt to be set")
	}
	firstEnd := *ended.EndsAt

	time.Sleep(5 * time.Millisecond)
	again, err := f.svc.EndPrescription(context.Background(), f.clinicID, prescription.ID, f.physioID)
	if err != nil {
		t.Fatalf("second EndPrescription returned error: %v", err)
	}
	if !again.EndsAt.Equal(firstEnd) {
		t.Fatalf("end date should not move: %v vs %v", again.EndsAt, firstEnd)
	}
}

func TestListExercisesFiltersByRegion(t *testing.T) {
	f := newFixture(t)
	f.createExercise(t, "Ponte de glúteos", "lombar")
	f.createExercise(t, "Rotação cervical", "cervical")

	result, err := f.svc.ListExercises(context.Background(), ListParams{ClinicID: f.clinicID, BodyRegion: "lombar"})
	if err != nil {
		t.Fatalf("ListExercises returned error: %v", err)
	}
	if len(result.Items) != 1 || result.Items[0].Name != "Ponte de glúteos" {
		t.Fatalf("region filter wrong: %v", result.Items)
	}
}
