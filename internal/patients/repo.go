package patients

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fisiohub/clinic-backend/pkg/db/models"
	"github.com/fisiohub/clinic-backend/pkg/enums"
	"github.com/fisiohub/clinic-backend/pkg/pagination"
)

// Repository persists patient records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, patient *models.Patient) error
	Update(ctx context.Context, patient *models.Patient) error
	GetByID(ctx context.Context, clinicID, patientID uuid.UUID) (*models.Patient, error)
	List(ctx context.Context, params listParams) ([]models.Patient, *pagination.Cursor, error)
	CountByClinic(ctx context.Context, clinicID uuid.UUID) (int64, error)
}

type listParams struct {
	ClinicID uuid.UUID
	Status   enums.PatientStatus
	Search   string
	Limit    int
	Cursor   *pagination.Cursor
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a patient repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, patient *models.Patient) error {
	return r.db.WithContext(ctx).Create(patient).Error
}

func (r *repositoryImpl) Update(ctx context.Context, patient *models.Patient) error {
	return r.db.WithContext(ctx).Save(patient).Error
}

func (r *repositoryImpl) GetByID(ctx context.Context, clinicID, patientID uuid.UUID) (*models.Patient, error) {
	var patient models.Patient
	err := r.db.WithContext(ctx).
		First(&patient, "id = ? AND clinic_id = ?", patientID, clinicID).Error
	if err != nil {
		return nil, err
	}
	return &patient, nil
}

func (r *repositoryImpl) List(ctx context.Context, params listParams) ([]models.Patient, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)

	query := r.db.WithContext(ctx).
		Model(&models.Patient{}).
		Where("clinic_id = ?", params.ClinicID)
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.Search != "" {
		query = query.Where("full_name ILIKE ?", "%"+params.Search+"%")
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var patients []models.Patient
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&patients).Error; err != nil {
		return nil, nil, err
	}

	if len(patients) > normalized {
		next := patients[normalized]
		patients = patients[:normalized]
		return patients, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return patients, nil, nil
}

func (r *repositoryImpl) CountByClinic(ctx context.Context, clinicID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Patient{}).
		Where("clinic_id = ?", clinicID).
		Count(&count).Error
	return count, err
}
