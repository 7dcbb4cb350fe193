package exercises

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
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

// PatientDirectory resolves patients for prescription checks and event data.
type PatientDirectory interface {
	GetByID(ctx context.Context, clinicID, patientID uuid.UUID) (*models.Patient, error)
}

// ExerciseInput carries the fields for a library exercise.
type ExerciseInput struct {
	ClinicID    uuid.UUID
	Name        string
	Description *string
	BodyRegions []string
	VideoURL    *string
}

// PrescribeInput ties an exercise to a patient with dosage parameters.
type PrescribeInput struct {
	ClinicID     uuid.UUID
	PatientID    uuid.UUID
	ExerciseID   uuid.UUID
	PrescribedBy uuid.UUID
	Sets         int
	Reps         int
	Frequency    string
	Instructions *string
	EndsAt       *time.Time
}

// ListParams configures exercise library listing.
type ListParams struct {
	ClinicID   uuid.UUID
	Search     string
	BodyRegion string
	Limit      int
	Cursor     string
}

// ListResult wraps exercises and the next-page cursor.
type ListResult struct {
	Items  []models.Exercise `json:"items"`
	Cursor string            `json:"cursor"`
}

// Service manages the exercise library and patient prescriptions.
type Service interface {
	CreateExercise(ctx context.Context, input ExerciseInput) (*models.Exercise, error)
	UpdateExercise(ctx context.Context, exerciseID uuid.UUID, input ExerciseInput) (*models.Exercise, error)
	GetExercise(ctx context.Context, clinicID, exerciseID uuid.UUID) (*models.Exercise, error)
	ListExercises(ctx context.Context, params ListParams) (*ListResult, error)
	Prescribe(ctx context.Context, input PrescribeInput) (*models.ExercisePrescription, error)
	EndPrescription(ctx context.Context, clinicID, prescriptionID, actorUserID uuid.UUID) (*models.ExercisePrescription, error)
	ListPrescriptions(ctx context.Context, clinicID, patientID uuid.UUID) ([]models.ExercisePrescription, error)
}

type service struct {
	repo     Repository
	patients PatientDirectory
	bus      EventBus
	audit    audit.Service
	logg     *logger.Logger
}

// NewService wires the exercise service. The audit service is optional.
func NewService(repo Repository, patients PatientDirectory, bus EventBus, auditSvc audit.Service, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "exercises repository required")
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

func (s *service) CreateExercise(ctx context.Context, input ExerciseInput) (*models.Exercise, error) {
	if input.ClinicID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic id required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "exercise name required")
	}

	exercise := &models.Exercise{
		ClinicID:    input.ClinicID,
		Name:        name,
		Description: input.Description,
		BodyRegions: normalizeRegions(input.BodyRegions),
		VideoURL:    input.VideoURL,
	}
	if err := s.repo.CreateExercise(ctx, exercise); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create exercise")
	}
	return exercise, nil
}

func (s *service) UpdateExercise(ctx context.Context, exerciseID uuid.UUID, input ExerciseInput) (*models.Exercise, error) {
	if input.ClinicID == uuid.Nil || exerciseID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic id and exercise id required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "exercise name required")
	}

	exercise, err := s.repo.GetExercise(ctx, input.ClinicID, exerciseID)
	if err != nil {
		return nil, asLookupError(err, "exercise not found")
	}

	exercise.Name = name
	exercise.Description = input.Description
	exercise.BodyRegions = normalizeRegions(input.BodyRegions)
	exercise.VideoURL = input.VideoURL
	if err := s.repo.UpdateExercise(ctx, exercise); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update exercise")
	}
	return exercise, nil
}

func (s *service) GetExercise(ctx context.Context, clinicID, exerciseID uuid.UUID) (*models.Exercise, error) {
	if clinicID == uuid.Nil || exerciseID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic id and exercise id required")
	}
	exercise, err := s.repo.GetExercise(ctx, clinicID, exerciseID)
	if err != nil {
		return nil, asLookupError(err, "exercise not found")
	}
	return exercise, nil
}

func (s *service) ListExercises(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.ClinicID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic id required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	items, next, err := s.repo.ListExercises(ctx, listParams{
		ClinicID:   params.ClinicID,
		Search:     strings.TrimSpace(params.Search),
		BodyRegion: strings.TrimSpace(params.BodyRegion),
		Limit:      params.Limit,
		Cursor:     cursor,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list exercises")
	}

	result := &ListResult{Items: items}
	if next != nil {
		result.Cursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

func (s *service) Prescribe(ctx context.Context, input PrescribeInput) (*models.ExercisePrescription, error) {
	if input.ClinicID == uuid.Nil || input.PatientID == uuid.Nil || input.ExerciseID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic, patient and exercise ids required")
	}
	if input.PrescribedBy == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "prescriber user id required")
	}
	if input.Sets <= 0 || input.Reps <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sets and reps must be positive")
	}
	frequency := strings.TrimSpace(input.Frequency)
	if frequency == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "frequency required")
	}
	if input.EndsAt != nil && !input.EndsAt.After(time.Now()) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "end date must be in the future")
	}

	patient, err := s.patients.GetByID(ctx, input.ClinicID, input.PatientID)
	if err != nil {
		return nil, asLookupError(err, "patient not found")
	}
	if patient.Status == enums.PatientStatusArchived {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cannot prescribe for an archived patient")
	}
	exercise, err := s.repo.GetExercise(ctx, input.ClinicID, input.ExerciseID)
	if err != nil {
		return nil, asLookupError(err, "exercise not found")
	}

	prescription := &models.ExercisePrescription{
		ClinicID:     input.ClinicID,
		PatientID:    input.PatientID,
		ExerciseID:   input.ExerciseID,
		PrescribedBy: input.PrescribedBy,
		Sets:         input.Sets,
		Reps:         input.Reps,
		Frequency:    frequency,
		Instructions: input.Instructions,
		EndsAt:       input.EndsAt,
	}
	if err := s.repo.CreatePrescription(ctx, prescription); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create prescription")
	}

	s.recordAudit(ctx, prescription, input.PrescribedBy, "prescription.create", map[string]any{
		"exerciseName": exercise.Name,
	})
	s.trigger(ctx, prescription, patient, exercise, input.PrescribedBy)
	return prescription, nil
}

// EndPrescription closes the prescription immediately. Already ended
// prescriptions are left untouched.
func (s *service) EndPrescription(ctx context.Context, clinicID, prescriptionID, actorUserID uuid.UUID) (*models.ExercisePrescription, error) {
	if clinicID == uuid.Nil || prescriptionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic id and prescription id required")
	}

	prescription, err := s.repo.GetPrescription(ctx, clinicID, prescriptionID)
	if err != nil {
		return nil, asLookupError(err, "prescription not found")
	}
	now := time.Now().UTC()
	if prescription.EndsAt != nil && prescription.EndsAt.Before(now) {
		return prescription, nil
	}

	prescription.EndsAt = &now
	if err := s.repo.UpdatePrescription(ctx, prescription); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "end prescription")
	}

	s.recordAudit(ctx, prescription, actorUserID, "prescription.end", nil)
	return prescription, nil
}

func (s *service) ListPrescriptions(ctx context.Context, clinicID, patientID uuid.UUID) ([]models.ExercisePrescription, error) {
	if clinicID == uuid.Nil || patientID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "clinic id and patient id required")
	}
	prescriptions, err := s.repo.ListPrescriptionsByPatient(ctx, clinicID, patientID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list prescriptions")
	}
	return prescriptions, nil
}

func (s *service) trigger(ctx context.Context, prescription *models.ExercisePrescription, patient *models.Patient, exercise *models.Exercise, actorUserID uuid.UUID) {
	var userID *uuid.UUID
	if actorUserID != uuid.Nil {
		userID = &actorUserID
	}
	_, err := s.bus.Trigger(ctx, events.TriggerInput{
		ClinicID: prescription.ClinicID,
		UserID:   userID,
		Module:   enums.ModuleExercises,
		Type:     enums.EventExercisePrescribed,
		Data: map[string]any{
			"prescriptionId": prescription.ID.String(),
			"patientId":      prescription.PatientID.String(),
			"patientName":    patient.FullName,
			"exerciseId":     exercise.ID.String(),
			"exerciseName":   exercise.Name,
		},
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		s.logg.Error(s.logg.WithField(ctx, "prescription_id", prescription.ID.String()), "failed to trigger prescription event", err)
	}
}

func (s *service) recordAudit(ctx context.Context, prescription *models.ExercisePrescription, actorUserID uuid.UUID, action string, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	var actor *uuid.UUID
	if actorUserID != uuid.Nil {
		actor = &actorUserID
	}
	resourceID := prescription.ID
	err := s.audit.Record(ctx, audit.Entry{
		ClinicID:     prescription.ClinicID,
		ActorUserID:  actor,
		Module:       enums.ModuleExercises,
		Action:       action,
		ResourceType: "exercise_prescription",
		ResourceID:   &resourceID,
		Metadata:     metadata,
	})
	if err != nil {
		s.logg.Error(s.logg.WithFields(ctx, map[string]any{
			"prescription_id": prescription.ID.String(),
			"action":          action,
		}), "failed to record audit entry", err)
	}
}

func normalizeRegions(regions []string) pq.StringArray {
	out := make(pq.StringArray, 0, len(regions))
	for _, region := range regions {
		trimmed := strings.ToLower(strings.TrimSpace(region))
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func asLookupError(err error, notFound string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFound)
	}
	if coded := pkgerrors.As(err); coded != nil && coded.Code() == pkgerrors.CodeNotFound {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, notFound)
}
