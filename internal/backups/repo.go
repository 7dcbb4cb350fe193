package backups

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fisiohub/clinic-backend/pkg/db/models"
	"github.com/fisiohub/clinic-backend/pkg/pagination"
)

// Repository persists backup run records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, record *models.BackupRecord) error
	Update(ctx context.Context, record *models.BackupRecord) error
	GetByID(ctx context.Context, clinicID, recordID uuid.UUID) (*models.BackupRecord, error)
	ListByClinic(ctx context.Context, clinicID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.BackupRecord, *pagination.Cursor, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a backup repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, record *models.BackupRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repositoryImpl) Update(ctx context.Context, record *models.BackupRecord) error {
	return r.db.WithContext(ctx).Save(record).Error
}

func (r *repositoryImpl) GetByID(ctx context.Context, clinicID, recordID uuid.UUID) (*models.BackupRecord, error) {
	var record models.BackupRecord
	err := r.db.WithContext(ctx).
		First(&record, "id = ? AND clinic_id = ?", recordID, clinicID).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repositoryImpl) ListByClinic(ctx context.Context, clinicID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.BackupRecord, *pagination.Cursor, error) {
	bufLimit := pagination.LimitWithBuffer(limit)
	normalized := pagination.NormalizeLimit(limit)

	query := r.db.WithContext(ctx).
		Model(&models.BackupRecord{}).
		Where("clinic_id = ?", clinicID)
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var records []models.BackupRecord
	if err := query.Order("created_at DESC, id DESC").Limit(bufLimit).Find(&records).Error; err != nil {
		return nil, nil, err
	}

	if len(records) > normalized {
		next := records[normalized]
		records = records[:normalized]
		return records, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return records, nil, nil
}

func (r *repositoryImpl) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ? AND status <> ?", cutoff, "running").
		Delete(&models.BackupRecord{})
	return result.RowsAffected, result.Error
}
