package exercises

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fisiohub/clinic-backend/pkg/db/models"
	"github.com/fisiohub/clinic-backend/pkg/pagination"
)

// Repository persists the exercise library and prescriptions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateExercise(ctx context.Context, exercise *models.Exercise) error
	UpdateExercise(ctx context.Context, exercise *models.Exercise) error
	GetExercise(ctx context.Context, clinicID, exerciseID uuid.UUID) (*models.Exercise, error)
	ListExercises(ctx context.Context, params listParams) ([]models.Exercise, *pagination.Cursor, error)
	CreatePrescription(ctx context.Context, prescription *models.ExercisePrescription) error
	UpdatePrescription(ctx context.Context, prescription *models.ExercisePrescription) error
	GetPrescription(ctx context.Context, clinicID, prescriptionID uuid.UUID) (*models.ExercisePrescription, error)
	ListPrescriptionsByPatient(ctx context.Context, clinicID, patientID uuid.UUID) ([]models.ExercisePrescription, error)
}

type listParams struct {
	ClinicID   uuid.UUID
	Search     string
	BodyRegion string
	Limit      int
	Cursor     *pagination.Cursor
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns an exercise repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) CreateExercise(ctx context.Context, exercise *models.Exercise) error {
	return r.db.WithContext(ctx).Create(exercise).Error
}

func (r *repositoryImpl) UpdateExercise(ctx context.Context, exercise *models.Exercise) error {
	return r.db.WithContext(ctx).Save(exercise).Error
}

func (r *repositoryImpl) GetExercise(ctx context.Context, clinicID, exerciseID uuid.UUID) (*models.Exercise, error) {
	var exercise models.Exercise
	err := r.db.WithContext(ctx).
		First(&exercise, "id = ? AND clinic_id = ?", exerciseID, clinicID).Error
	if err != nil {
		return nil, err
	}
	return &exercise, nil
}

func (r *repositoryImpl) ListExercises(ctx context.Context, params listParams) ([]models.Exercise, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)

	query := r.db.WithContext(ctx).
		Model(&models.Exercise{}).
		Where("clinic_id = ?", params.ClinicID)
	if params.Search != "" {
		query = query.Where("name ILIKE ?", "%"+params.Search+"%")
	}
	if params.BodyRegion != "" {
		query = query.Where("? = ANY(body_regions)", params.BodyRegion)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var exercises []models.Exercise
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&exercises).Error; err != nil {
		return nil, nil, err
	}

	if len(exercises) > normalized {
		next := exercises[normalized]
		exercises = exercises[:normalized]
		return exercises, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return exercises, nil, nil
}

func (r *repositoryImpl) CreatePrescription(ctx context.Context, prescription *models.ExercisePrescription) error {
	return r.db.WithContext(ctx).Create(prescription).Error
}

func (r *repositoryImpl) UpdatePrescription(ctx context.Context, prescription *models.ExercisePrescription) error {
	return r.db.WithContext(ctx).Save(prescription).Error
}

func (r *repositoryImpl) GetPrescription(ctx context.Context, clinicID, prescriptionID uuid.UUID) (*models.ExercisePrescription, error) {
	var prescription models.ExercisePrescription
	err := r.db.WithContext(ctx).
		First(&prescription, "id = ? AND clinic_id = ?", prescriptionID, clinicID).Error
	if err != nil {
		return nil, err
	}
	return &prescription, nil
}

func (r *repositoryImpl) ListPrescriptionsByPatient(ctx context.Context, clinicID, patientID uuid.UUID) ([]models.ExercisePrescription, error) {
	var prescriptions []models.ExercisePrescription
	err := r.db.WithContext(ctx).
		Where("clinic_id = ? AND patient_id = ?", clinicID, patientID).
		Order("created_at DESC").
		Find(&prescriptions).Error
	return prescriptions, err
}
