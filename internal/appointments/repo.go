package appointments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fisiohub/clinic-backend/pkg/db/models"
	"github.com/fisiohub/clinic-backend/pkg/enums"
	"github.com/fisiohub/clinic-backend/pkg/pagination"
)

// Repository persists appointments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, appointment *models.Appointment) error
	Update(ctx context.Context, appointment *models.Appointment) error
	GetByID(ctx context.Context, clinicID, appointmentID uuid.UUID) (*models.Appointment, error)
	List(ctx context.Context, params listParams) ([]models.Appointment, *pagination.Cursor, error)
	CountOverlapping(ctx context.Context, probe overlapProbe) (int64, error)
}

type listParams struct {
	ClinicID    uuid.UUID
	PatientID   *uuid.UUID
	TherapistID *uuid.UUID
	Status      enums.AppointmentStatus
	From        *time.Time
	To          *time.Time
	Limit       int
	Cursor      *pagination.Cursor
}

// overlapProbe describes the slot being checked for double booking.
type overlapProbe struct {
	ClinicID    uuid.UUID
	TherapistID uuid.UUID
	StartsAt    time.Time
	EndsAt      time.Time
	ExcludeID   *uuid.UUID
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns an appointment repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, appointment *models.Appointment) error {
	return r.db.WithContext(ctx).Create(appointment).Error
}

func (r *repositoryImpl) Update(ctx context.Context, appointment *models.Appointment) error {
	return r.db.WithContext(ctx).Save(appointment).Error
}

func (r *repositoryImpl) GetByID(ctx context.Context, clinicID, appointmentID uuid.UUID) (*models.Appointment, error) {
	var appointment models.Appointment
	err := r.db.WithContext(ctx).
		First(&appointment, "id = ? AND clinic_id = ?", appointmentID, clinicID).Error
	if err != nil {
		return nil, err
	}
	return &appointment, nil
}

func (r *repositoryImpl) List(ctx context.Context, params listParams) ([]models.Appointment, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)

	query := r.db.WithContext(ctx).
		Model(&models.Appointment{}).
		Where("clinic_id = ?", params.ClinicID)
	if params.PatientID != nil {
		query = query.Where("patient_id = ?", *params.PatientID)
	}
	if params.TherapistID != nil {
		query = query.Where("therapist_id = ?", *params.TherapistID)
	}
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.From != nil {
		query = query.Where("starts_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("starts_at < ?", *params.To)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var appointments []models.Appointment
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&appointments).Error; err != nil {
		return nil, nil, err
	}

	if len(appointments) > normalized {
		next := appointments[normalized]
		appointments = appointments[:normalized]
		return appointments, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return appointments, nil, nil
}

// CountOverlapping counts non-cancelled slots of the therapist that
// intersect the half-open interval [StartsAt, EndsAt).
func (r *repositoryImpl) CountOverlapping(ctx context.Context, probe overlapProbe) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Appointment{}).
		Where("clinic_id = ? AND therapist_id = ?", probe.ClinicID, probe.TherapistID).
		Where("status IN ?", []enums.AppointmentStatus{
			enums.AppointmentStatusScheduled,
			enums.AppointmentStatusCompleted,
		}).
		Where("starts_at < ? AND ends_at > ?", probe.EndsAt, probe.StartsAt)
	if probe.ExcludeID != nil {
		query = query.Where("id <> ?", *probe.ExcludeID)
	}

	var count int64
	err := query.Count(&count).Error
	return count, err
}
