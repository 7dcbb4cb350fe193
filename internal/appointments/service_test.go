package appointments

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
	mtx          sync.Mutex
	appointments map[uuid.UUID]*models.Appointment
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{appointments: make(map[uuid.UUID]*models.Appointment)}
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepository) Create(ctx context.Context, appointment *models.Appointment) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if appointment.ID == uuid.Nil {
		appointment.ID = uuid.New()
	}
	appointment.CreatedAt = time.Now().UTC()
	copied := *appointment
	f.appointments[appointment.ID] = &copied
	return nil
}

func (f *fakeRepository) Update(ctx context.Context, appointment *models.Appointment) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	copied := *appointment
	f.appointments[appointment.ID] = &copied
	return nil
}

func (f *fakeRepository) GetByID(ctx context.Context, clinicID, appointmentID uuid.UUID) (*models.Appointment, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	appointment, ok := f.appointments[appointmentID]
	if !ok || appointment.ClinicID != clinicID {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *appointment
	return &copied, nil
}

func (f *fakeRepository) List(ctx context.Context, params listParams) ([]models.Appointment, *pagination.Cursor, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	var items []models.Appointment
	for _, appointment := range f.appointments {
		if appointment.ClinicID != params.ClinicID {
			continue
		}
		if params.Status != "" && appointment.Status != params.Status {
			continue
		}
		if params.TherapistID != nil && appointment.TherapistID != *params.TherapistID {
			continue
		}
		items = append(items, *appointment)
	}
	return items, nil, nil
}

func (f *fakeRepository) CountOverlapping(ctx context.Context, probe overlapProbe) (int64, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	var count int64
	for _, appointment := range f.appointments {
		if appointment.ClinicID != probe.ClinicID || appointment.TherapistID != probe.TherapistID {
			continue
		}
		if appointment.Status == enums.AppointmentStatusCancelled || appointment.Status == enums.AppointmentStatusNoShow {
			continue
		}
		if probe.ExcludeID != nil && appointment.ID == *probe.ExcludeID {
			continue
		}
		if appointment.StartsAt.Before(probe.EndsAt) && appointment.EndsAt.After(probe.StartsAt) {
			count++
		}
	}
	return count, nil
}

type fakePatients struct {
	mtx      sync.Mutex
	patients map[uuid.UUID]*models.Patient
}

func newFakePatients() *fakePatients {
	return &fakePatients{patients: make(map[uuid.UUID]*models.Patient)}
}

func (f *fakePatients) add(patient *models.Patient) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.patients[patient.ID] = patient
}

func (f *fakePatients) GetByID(ctx context.Context, clinicID, patientID uuid.UUID) (*models.Patient, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
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

func (f *fakeBus) events() []events.TriggerInput {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	out := make([]events.TriggerInput, len(f.triggered))
	copy(out, f.triggered)
	return out
}

type fixture struct {
	svc      Service
	repo     *fakeRepository
	patients *fakePatients
	bus      *fakeBus

	clinicID    uuid.UUID
	patientID   uuid.UUID
	therapistID uuid.UUID
	actorID     uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newFakeRepository()
	patients := newFakePatients()
	bus := &fakeBus{}

	f := &fixture{
		repo:        repo,
		patients:    patients,
		bus:         bus,
		clinicID:    uuid.New(),
		patientID:   uuid.New(),
		therapistID: uuid.New(),
		actorID:     uuid.New(),
	}
	patients.add(&models.Patient{
		ID:       f.patientID,
		ClinicID: f.clinicID,
		FullName: "Maria Souza",
		Status:   enums.PatientStatusActive,
	})

	svc, err := NewService(repo, patients, bus, nil, logger.New(logger.Options{ServiceName: "appointments-test"}))
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	f.svc = svc
	return f
}

func (f *fixture) schedule(t *testing.T, startsAt, endsAt time.Time) *models.Appointment {
	t.Helper()
	appointment, err := f.svc.Schedule(context.Background(), ScheduleInput{
		ClinicID:    f.clinicID,
		PatientID:   f.patientID,
		TherapistID: f.therapistID,
		ActorUserID: f.actorID,
		StartsAt:    startsAt,
		EndsAt:      endsAt,
	})
	if err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	return appointment
}

func slot(hour int) (time.Time, time.Time) {
	day := time.Date(2026, 9, 1, hour, 0, 0, 0, time.UTC)
	return day, day.Add(time.Hour)
}

func TestScheduleValidatesSlot(t *testing.T) {
	f := newFixture(t)
	start, _ := slot(9)

	_, err := f.svc.Schedule(context.Background(), ScheduleInput{
		ClinicID:    f.clinicID,
		PatientID:   f.patientID,
		TherapistID: f.therapistID,
		StartsAt:    start,
		EndsAt:      start,
	})
	if pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for zero-length slot, got %v", err)
	}
}

func TestScheduleEmitsEvent(t *testing.T) {
	f := newFixture(t)
	start, end := slot(9)

	appointment := f.schedule(t, start, end)
	if appointment.Status != enums.AppointmentStatusScheduled {
		t.Fatalf("expected scheduled status, got %q", appointment.Status)
	}

	triggered := f.bus.events()
	if len(triggered) != 1 {
		t.Fatalf("expected 1 event, got %d", len(triggered))
	}
	evt := triggered[0]
	if evt.Type != enums.EventAppointmentScheduled || evt.Module != enums.ModuleAppointments {
		t.Fatalf("unexpected event %q/%q", evt.Type, evt.Module)
	}
	if evt.Data["patientName"] != "Maria Souza" {
		t.Fatalf("expected patientName in event data, got %v", evt.Data)
	}
}

func TestScheduleRejectsDoubleBooking(t *testing.T) {
	f := newFixture(t)
	start, end := slot(9)
	f.schedule(t, start, end)

	_, err := f.svc.Schedule(context.Background(), ScheduleInput{
		ClinicID:    f.clinicID,
		PatientID:   f.patientID,
		TherapistID: f.therapistID,
		StartsAt:    start.Add(30 * time.Minute),
		EndsAt:      end.Add(30 * time.Minute),
	})
	if pkgerrors.As(err).Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict for overlapping slot, got %v", err)
	}
}

func TestScheduleAllowsBackToBackSlots(t *testing.T) {
	f := newFixture(t)
	start, end := slot(9)
	f.schedule(t, start, end)

	// [9,10) then [10,11) share only the boundary instant.
	if _, err := f.svc.Schedule(context.Background(), ScheduleInput{
		ClinicID:    f.clinicID,
		PatientID:   f.patientID,
		TherapistID: f.therapistID,
		StartsAt:    end,
		EndsAt:      end.Add(time.Hour),
	}); err != nil {
		t.Fatalf("back-to-back slot should be allowed, got %v", err)
	}
}

func TestScheduleAllowsOtherTherapistSameSlot(t *testing.T) {
	f := newFixture(t)
	start, end := slot(9)
	f.schedule(t, start, end)

	if _, err := f.svc.Schedule(context.Background(), ScheduleInput{
		ClinicID:    f.clinicID,
		PatientID:   f.patientID,
		TherapistID: uuid.New(),
		StartsAt:    start,
		EndsAt:      end,
	}); err != nil {
		t.Fatalf("other therapist should be bookable, got %v", err)
	}
}

func TestScheduleRejectsArchivedPatient(t *testing.T) {
	f := newFixture(t)
	archivedID := uuid.New()
	f.patients.add(&models.Patient{
		ID:       archivedID,
		ClinicID: f.clinicID,
		FullName: "Arquivado",
		Status:   enums.PatientStatusArchived,
	})

	start, end := slot(9)
	_, err := f.svc.Schedule(context.Background(), ScheduleInput{
		ClinicID:    f.clinicID,
		PatientID:   archivedID,
		TherapistID: f.therapistID,
		StartsAt:    start,
		EndsAt:      end,
	})
	if pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for archived patient, got %v", err)
	}
}

func TestCompleteEmitsEventAndSetsTimestamp(t *testing.T) {
	f := newFixture(t)
	start, end := slot(9)
	appointment := f.schedule(t, start, end)

	completed, err := f.svc.Complete(context.Background(), f.clinicID, appointment.ID, f.actorID)
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if completed.Status != enums.AppointmentStatusCompleted || completed.CompletedAt == nil {
		t.Fatalf("completion state not applied: %+v", completed)
	}

	triggered := f.bus.events()
	last := triggered[len(triggered)-1]
	if last.Type != enums.EventAppointmentCompleted {
		t.Fatalf("expected appointment_completed, got %q", last.Type)
	}
	if last.Data["patientName"] != "Maria Souza" {
		t.Fatalf("expected patientName in event data, got %v", last.Data)
	}
}

func TestCompleteTwiceConflicts(t *testing.T) {
	f := newFixture(t)
	start, end := slot(9)
	appointment := f.schedule(t, start, end)

	if _, err := f.svc.Complete(context.Background(), f.clinicID, appointment.ID, f.actorID); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	_, err := f.svc.Complete(context.Background(), f.clinicID, appointment.ID, f.actorID)
	if pkgerrors.As(err).Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict on second completion, got %v", err)
	}
}

func TestCancelReleasesSlot(t *testing.T) {
	f := newFixture(t)
	start, end := slot(9)
	appointment := f.schedule(t, start, end)

	cancelled, err := f.svc.Cancel(context.Background(), f.clinicID, appointment.ID, f.actorID)
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if cancelled.Status != enums.AppointmentStatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("cancellation state not applied: %+v", cancelled)
	}

	// The freed slot can be booked again.
	if _, err := f.svc.Schedule(context.Background(), ScheduleInput{
		ClinicID:    f.clinicID,
		PatientID:   f.patientID,
		TherapistID: f.therapistID,
		StartsAt:    start,
		EndsAt:      end,
	}); err != nil {
		t.Fatalf("cancelled slot should be free, got %v", err)
	}
}

func TestRescheduleChecksNewSlot(t *testing.T) {
	f := newFixture(t)
	nineStart, nineEnd := slot(9)
	elevenStart, elevenEnd := slot(11)
	first := f.schedule(t, nineStart, nineEnd)
	f.schedule(t, elevenStart, elevenEnd)

	_, err := f.svc.Reschedule(context.Background(), RescheduleInput{
		ClinicID:      f.clinicID,
		AppointmentID: first.ID,
		ActorUserID:   f.actorID,
		StartsAt:      elevenStart,
		EndsAt:        elevenEnd,
	})
	if pkgerrors.As(err).Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict moving onto a taken slot, got %v", err)
	}

	// Moving within its own slot is fine, the appointment excludes itself.
	moved, err := f.svc.Reschedule(context.Background(), RescheduleInput{
		ClinicID:      f.clinicID,
		AppointmentID: first.ID,
		ActorUserID:   f.actorID,
		StartsAt:      nineStart.Add(15 * time.Minute),
		EndsAt:        nineEnd.Add(15 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Reschedule returned error: %v", err)
	}
	if !moved.StartsAt.Equal(nineStart.Add(15 * time.Minute)) {
		t.Fatalf("start time not moved: %v", moved.StartsAt)
	}
}

func TestListEnforcesClinicScope(t *testing.T) {
	f := newFixture(t)
	start, end := slot(9)
	f.schedule(t, start, end)

	result, err := f.svc.List(context.Background(), ListParams{ClinicID: uuid.New()})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(result.Items) != 0 {
		t.Fatalf("expected no appointments for other clinic, got %d", len(result.Items))
	}
}
