package patients

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

// CreateInput carries the fields for a new patient record.
type CreateInput struct {
	ClinicID  uuid.UUID
	CreatedBy uuid.UUID
	FullName  string
	Email     *string
	Phone     *string
	BirthDate *time.Time
	Diagnosis *string
	Notes     *string
}

// UpdateInput applies partial changes to an existing patient.
type UpdateInput struct {
	ClinicID    uuid.UUID
	PatientID   uuid.UUID
	ActorUserID uuid.UUID
	FullName    *string
	Email       *string
	Phone       *string
	BirthDate   *time.Time
	Diagnosis   *string
	Notes       *string
	Status      *enums.PatientStatus
}

// ListParams configures patient listing.
type ListParams struct {
	ClinicID uuid.UUID
	Status   string
	Search   string
	Limit    int
	Cursor   string
}

// ListResult wraps patients and the next-page cursor.
type ListResult struct {
	Items  []models.Patient `json:"items"`
	Cursor string           `json:"cursor"`
}

// Service manages clinic patient records.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Patient, error)
	Update(ctx context.Context, input UpdateInput) (*models.Patient, error)
	Archive(ctx context.Context, clinicID, patientID, actorUserID uuid.UUID) (*models.Patient, error)
	GetByID(ctx context.Context, clinicID, patientID uuid.UUID) (*models.Patient, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
}

type service struct {
	repo  Repository
	bus   EventBus
	audit audit.Service
	logg  *logger.Logger
}

// NewService wires the patient service. The audit service is optional.
func NewService(repo Repository, bus EventBus, auditSvc audit.Service, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "patients repository required")
	}
	if bus == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "event bus required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{repo: repo, bus: bus, audit: auditSvc, logg: logg}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Patient, error) {
	if input.ClinicID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic id required")
	}
	if input.CreatedBy == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "creator user id required")
	}
	name := strings.TrimSpace(input.FullName)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "full name required")
	}

	patient := &models.Patient{
		ClinicID:  input.ClinicID,
		FullName:  name,
		Email:     input.Email,
		Phone:     input.Phone,
		BirthDate: input.BirthDate,
		Diagnosis: input.Diagnosis,
		Notes:     input.Notes,
		Status:    enums.PatientStatusActive,
		CreatedBy: input.CreatedBy,
	}
	if err := s.repo.Create(ctx, patient); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create patient")
	}

	s.recordAudit(ctx, patient, input.CreatedBy, "patient.create", map[string]any{
		"fullName": patient.FullName,
	})
	s.trigger(ctx, patient, input.CreatedBy, enums.EventPatientCreated)
	return patient, nil
}

func (s *service) Update(ctx context.Context, input UpdateInput) (*models.Patient, error) {
	if input.ClinicID == uuid.Nil || input.PatientID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic id and patient id required")
	}
	if input.Status != nil && !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid patient status %q", *input.Status))
	}

	patient, err := s.repo.GetByID(ctx, input.ClinicID, input.PatientID)
	if err != nil {
		return nil, asLookupError(err, "load patient")
	}

	if input.FullName != nil {
		name := strings.TrimSpace(*input.FullName)
		if name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "full name cannot be empty")
		}
		patient.FullName = name
	}
	if input.Email != nil {
		patient.Email = input.Email
	}
	if input.Phone != nil {
		patient.Phone = input.Phone
	}
	if input.BirthDate != nil {
		patient.BirthDate = input.BirthDate
	}
	if input.Diagnosis != nil {
		patient.Diagnosis = input.Diagnosis
	}
	if input.Notes != nil {
		patient.Notes = input.Notes
	}
	if input.Status != nil {
		patient.Status = *input.Status
	}

	if err := s.repo.Update(ctx, patient); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update patient")
	}

	s.recordAudit(ctx, patient, input.ActorUserID, "patient.update", map[string]any{
		"status": string(patient.Status),
	})
	s.trigger(ctx, patient, input.ActorUserID, enums.EventPatientUpdated)
	return patient, nil
}

// Archive marks a patient as archived. Archiving an already archived patient
// is a no-op and does not re-emit the event.
func (s *service) Archive(ctx context.Context, clinicID, patientID, actorUserID uuid.UUID) (*models.Patient, error) {
	if clinicID == uuid.Nil || patientID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic id and patient id required")
	}

	patient, err := s.repo.GetByID(ctx, clinicID, patientID)
	if err != nil {
		return nil, asLookupError(err, "load patient")
	}
	if patient.Status == enums.PatientStatusArchived {
		return patient, nil
	}

	patient.Status = enums.PatientStatusArchived
	if err := s.repo.Update(ctx, patient); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "archive patient")
	}

	s.recordAudit(ctx, patient, actorUserID, "patient.archive", nil)
	s.trigger(ctx, patient, actorUserID, enums.EventPatientArchived)
	return patient, nil
}

func (s *service) GetByID(ctx context.Context, clinicID, patientID uuid.UUID) (*models.Patient, error) {
	if clinicID == uuid.Nil || patientID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic id and patient id required")
	}
	patient, err := s.repo.GetByID(ctx, clinicID, patientID)
	if err != nil {
		return nil, asLookupError(err, "load patient")
	}
	return patient, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.ClinicID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic id required")
	}

	repoParams := listParams{
		ClinicID: params.ClinicID,
		Search:   strings.TrimSpace(params.Search),
		Limit:    params.Limit,
	}
	if params.Status != "" {
		status, err := enums.ParsePatientStatus(params.Status)
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
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list patients")
	}

	result := &ListResult{Items: items}
	if next != nil {
		result.Cursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

// trigger records the system event behind the mutation. Event failures are
// logged and swallowed, the patient write already committed.
func (s *service) trigger(ctx context.Context, patient *models.Patient, actorUserID uuid.UUID, eventType enums.SystemEventType) {
	var userID *uuid.UUID
	if actorUserID != uuid.Nil {
		userID = &actorUserID
	}
	_, err := s.bus.Trigger(ctx, events.TriggerInput{
		ClinicID: patient.ClinicID,
		UserID:   userID,
		Module:   enums.ModulePatients,
		Type:     eventType,
		Data: map[string]any{
			"patientId":   patient.ID.String(),
			"patientName": patient.FullName,
		},
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		s.logg.Error(s.logg.WithFields(ctx, map[string]any{
			"patient_id": patient.ID.String(),
			"event_type": string(eventType),
		}), "failed to trigger patient event", err)
	}
}

func (s *service) recordAudit(ctx context.Context, patient *models.Patient, actorUserID uuid.UUID, action string, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	var actor *uuid.UUID
	if actorUserID != uuid.Nil {
		actor = &actorUserID
	}
	resourceID := patient.ID
	err := s.audit.Record(ctx, audit.Entry{
		ClinicID:     patient.ClinicID,
		ActorUserID:  actor,
		Module:       enums.ModulePatients,
		Action:       action,
		ResourceType: "patient",
		ResourceID:   &resourceID,
		Metadata:     metadata,
	})
	if err != nil {
		s.logg.Error(s.logg.WithFields(ctx, map[string]any{
			"patient_id": patient.ID.String(),
			"action":     action,
		}), "failed to record audit entry", err)
	}
}

func asLookupError(err error, message string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "patient not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, message)
}
