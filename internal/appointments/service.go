package appointments

import (
	"context"
	"errors"
	"fmt"
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

// EventBus records a system event and dispatches it to subscribers.
type EventBus interface {
	Trigger(ctx context.Context, input events.TriggerInput) (*models.SystemEvent, error)
}

// PatientDirectory resolves patients for scheduling checks and event data.
type PatientDirectory interface {
	GetByID(ctx context.Context, clinicID, patientID uuid.UUID) (*models.Patient, error)
}

// ScheduleInput carries the fields for a new appointment.
type ScheduleInput struct {
	ClinicID    uuid.UUID
	PatientID   uuid.UUID
	TherapistID uuid.UUID
	ActorUserID uuid.UUID
	StartsAt    time.Time
	EndsAt      time.Time
	Notes       *string
}

// RescheduleInput moves an existing appointment to a new slot.
type RescheduleInput struct {
	ClinicID      uuid.UUID
	AppointmentID uuid.UUID
	ActorUserID   uuid.UUID
	StartsAt      time.Time
	EndsAt        time.Time
}

// ListParams configures appointment listing.
type ListParams struct {
	ClinicID    uuid.UUID
	PatientID   *uuid.UUID
	TherapistID *uuid.UUID
	Status      string
	From        *time.Time
	To          *time.Time
	Limit       int
	Cursor      string
}

// ListResult wraps appointments and the next-page cursor.
type ListResult struct {
	Items  []models.Appointment `json:"items"`
	Cursor string               `json:"cursor"`
}

// Service manages clinic appointments.
type Service interface {
	Schedule(ctx context.Context, input ScheduleInput) (*models.Appointment, error)
	Reschedule(ctx context.Context, input RescheduleInput) (*models.Appointment, error)
	Cancel(ctx context.Context, clinicID, appointmentID, actorUserID uuid.UUID) (*models.Appointment, error)
	Complete(ctx context.Context, clinicID, appointmentID, actorUserID uuid.UUID) (*models.Appointment, error)
	MarkNoShow(ctx context.Context, clinicID, appointmentID, actorUserID uuid.UUID) (*models.Appointment, error)
	GetByID(ctx context.Context, clinicID, appointmentID uuid.UUID) (*models.Appointment, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
}

type service struct {
	repo     Repository
	patients PatientDirectory
	bus      EventBus
	audit    audit.Service
	logg     *logger.Logger
}

// NewService wires the appointment service. The audit service is optional.
func NewService(repo Repository, patients PatientDirectory, bus EventBus, auditSvc audit.Service, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "appointments repository required")
	}
	if patients == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "patient directory required")
	}
	if bus == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "event bus required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{repo: repo, patients: patients, bus: bus, audit: auditSvc, logg: logg}, nil
}

func (s *service) Schedule(ctx context.Context, input ScheduleInput) (*models.Appointment, error) {
	if input.ClinicID == uuid.Nil || input.PatientID == uuid.Nil || input.TherapistID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic, patient and therapist ids required")
	}
	if err := validateSlot(input.StartsAt, input.EndsAt); err != nil {
		return nil, err
	}

	patient, err := s.patients.GetByID(ctx, input.ClinicID, input.PatientID)
	if err != nil {
		return nil, asPatientLookupError(err)
	}
	if patient.Status == enums.PatientStatusArchived {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cannot schedule for an archived patient")
	}

	if err := s.ensureSlotFree(ctx, overlapProbe{
		ClinicID:    input.ClinicID,
		TherapistID: input.TherapistID,
		StartsAt:    input.StartsAt,
		EndsAt:      input.EndsAt,
	}); err != nil {
		return nil, err
	}

	appointment := &models.Appointment{
		ClinicID:    input.ClinicID,
		PatientID:   input.PatientID,
		TherapistID: input.TherapistID,
		StartsAt:    input.StartsAt.UTC(),
		EndsAt:      input.EndsAt.UTC(),
		Status:      enums.AppointmentStatusScheduled,
		Notes:       input.Notes,
	}
	if err := s.repo.Create(ctx, appointment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create appointment")
	}

	s.recordAudit(ctx, appointment, input.ActorUserID, "appointment.schedule", map[string]any{
		"startsAt": appointment.StartsAt.Format(time.RFC3339),
		"endsAt":   appointment.EndsAt.Format(time.RFC3339),
	})
	s.trigger(ctx, appointment, patient, input.ActorUserID, enums.EventAppointmentScheduled)
	return appointment, nil
}

func (s *service) Reschedule(ctx context.Context, input RescheduleInput) (*models.Appointment, error) {
	if input.ClinicID == uuid.Nil || input.AppointmentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic id and appointment id required")
	}
	if err := validateSlot(input.StartsAt, input.EndsAt); err != nil {
		return nil, err
	}

	appointment, err := s.repo.GetByID(ctx, input.ClinicID, input.AppointmentID)
	if err != nil {
		return nil, asLookupError(err)
	}
	if appointment.Status != enums.AppointmentStatusScheduled {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("cannot reschedule a %s appointment", appointment.Status))
	}

	excludeID := appointment.ID
	if err := s.ensureSlotFree(ctx, overlapProbe{
		ClinicID:    appointment.ClinicID,
		TherapistID: appointment.TherapistID,
		StartsAt:    input.StartsAt,
		EndsAt:      input.EndsAt,
		ExcludeID:   &excludeID,
	}); err != nil {
		return nil, err
	}

	appointment.StartsAt = input.StartsAt.UTC()
	appointment.EndsAt = input.EndsAt.UTC()
	if err := s.repo.Update(ctx, appointment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reschedule appointment")
	}

	s.recordAudit(ctx, appointment, input.ActorUserID, "appointment.reschedule", map[string]any{
		"startsAt": appointment.StartsAt.Format(time.RFC3339),
		"endsAt":   appointment.EndsAt.Format(time.RFC3339),
	})
	return appointment, nil
}

func (s *service) Cancel(ctx context.Context, clinicID, appointmentID, actorUserID uuid.UUID) (*models.Appointment, error) {
	return s.transition(ctx, clinicID, appointmentID, actorUserID, enums.AppointmentStatusCancelled)
}

func (s *service) Complete(ctx context.Context, clinicID, appointmentID, actorUserID uuid.UUID) (*models.Appointment, error) {
	return s.transition(ctx, clinicID, appointmentID, actorUserID, enums.AppointmentStatusCompleted)
}

func (s *service) MarkNoShow(ctx context.Context, clinicID, appointmentID, actorUserID uuid.UUID) (*models.Appointment, error) {
	return s.transition(ctx, clinicID, appointmentID, actorUserID, enums.AppointmentStatusNoShow)
}

// transition moves a scheduled appointment into a terminal status. Only
// scheduled appointments can transition; repeating a transition is a
// conflict, not a silent success, so callers see the stale state.
func (s *service) transition(ctx context.Context, clinicID, appointmentID, actorUserID uuid.UUID, target enums.AppointmentStatus) (*models.Appointment, error) {
	if clinicID == uuid.Nil || appointmentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic id and appointment id required")
	}

	appointment, err := s.repo.GetByID(ctx, clinicID, appointmentID)
	if err != nil {
		return nil, asLookupError(err)
	}
	if appointment.Status != enums.AppointmentStatusScheduled {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("appointment is already %s", appointment.Status))
	}

	now := time.Now().UTC()
	appointment.Status = target
	switch target {
	case enums.AppointmentStatusCompleted:
		appointment.CompletedAt = &now
	case enums.AppointmentStatusCancelled, enums.AppointmentStatusNoShow:
		appointment.CancelledAt = &now
	}
	if err := s.repo.Update(ctx, appointment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update appointment status")
	}

	s.recordAudit(ctx, appointment, actorUserID, "appointment."+string(target), nil)

	switch target {
	case enums.AppointmentStatusCompleted:
		s.triggerWithPatient(ctx, appointment, actorUserID, enums.EventAppointmentCompleted)
	case enums.AppointmentStatusCancelled, enums.AppointmentStatusNoShow:
		s.triggerWithPatient(ctx, appointment, actorUserID, enums.EventAppointmentCancelled)
	}
	return appointment, nil
}

func (s *service) GetByID(ctx context.Context, clinicID, appointmentID uuid.UUID) (*models.Appointment, error) {
	if clinicID == uuid.Nil || appointmentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic id and appointment id required")
	}
	appointment, err := s.repo.GetByID(ctx, clinicID, appointmentID)
	if err != nil {
		return nil, asLookupError(err)
	}
	return appointment, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.ClinicID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic id required")
	}

	repoParams := listParams{
		ClinicID:    params.ClinicID,
		PatientID:   params.PatientID,
		TherapistID: params.TherapistID,
		From:        params.From,
		To:          params.To,
		Limit:       params.Limit,
	}
	if params.Status != "" {
		status, err := enums.ParseAppointmentStatus(params.Status)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		repoParams.Status = status
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	repoParams.Cursor = cursor

	items, next, err := s.repo.List(ctx, repoParams)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list appointments")
	}

	result := &ListResult{Items: items}
	if next != nil {
		result.Cursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

func (s *service) ensureSlotFree(ctx context.Context, probe overlapProbe) error {
	count, err := s.repo.CountOverlapping(ctx, probe)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check therapist availability")
	}
	if count > 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "therapist already booked for this slot")
	}
	return nil
}

// triggerWithPatient resolves the patient before emitting so the event data
// carries the name notification templates render.
func (s *service) triggerWithPatient(ctx context.Context, appointment *models.Appointment, actorUserID uuid.UUID, eventType enums.SystemEventType) {
	patient, err := s.patients.GetByID(ctx, appointment.ClinicID, appointment.PatientID)
	if err != nil {
		s.logg.Error(s.logg.WithField(ctx, "appointment_id", appointment.ID.String()), "failed to resolve patient for event", err)
		patient = &models.Patient{ID: appointment.PatientID}
	}
	s.trigger(ctx, appointment, patient, actorUserID, eventType)
}

func (s *service) trigger(ctx context.Context, appointment *models.Appointment, patient *models.Patient, actorUserID uuid.UUID, eventType enums.SystemEventType) {
	var userID *uuid.UUID
	if actorUserID != uuid.Nil {
		userID = &actorUserID
	}
	_, err := s.bus.Trigger(ctx, events.TriggerInput{
		ClinicID: appointment.ClinicID,
		UserID:   userID,
		Module:   enums.ModuleAppointments,
		Type:     eventType,
		Data: map[string]any{
			"appointmentId": appointment.ID.String(),
			"patientId":     appointment.PatientID.String(),
			"patientName":   patient.FullName,
			"therapistId":   appointment.TherapistID.String(),
			"startsAt":      appointment.StartsAt.Format(time.RFC3339),
		},
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		s.logg.Error(s.logg.WithFields(ctx, map[string]any{
			"appointment_id": appointment.ID.String(),
			"event_type":     string(eventType),
		}), "failed to trigger appointment event", err)
	}
}

func (s *service) recordAudit(ctx context.Context, appointment *models.Appointment, actorUserID uuid.UUID, action string, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	var actor *uuid.UUID
	if actorUserID != uuid.Nil {
		actor = &actorUserID
	}
	resourceID := appointment.ID
	err := s.audit.Record(ctx, audit.Entry{
		ClinicID:     appointment.ClinicID,
		ActorUserID:  actor,
		Module:       enums.ModuleAppointments,
		Action:       action,
		ResourceType: "appointment",
		ResourceID:   &resourceID,
		Metadata:     metadata,
	})
	if err != nil {
		s.logg.Error(s.logg.WithFields(ctx, map[string]any{
			"appointment_id": appointment.ID.String(),
			"action":         action,
		}), "failed to record audit entry", err)
	}
}

func validateSlot(startsAt, endsAt time.Time) error {
	if startsAt.IsZero() || endsAt.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "start and end times required")
	}
	if !endsAt.After(startsAt) {
		return pkgerrors.New(pkgerrors.CodeValidation, "end time must be after start time")
	}
	return nil
}

func asLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "appointment not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load appointment")
}

func asPatientLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "patient not found")
	}
	if coded := pkgerrors.As(err); coded != nil && coded.Code() == pkgerrors.CodeNotFound {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load patient")
}
