package events

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fisiohub/clinic-backend/pkg/db/models"
)

// Repository persists system events for the bus.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.SystemEvent) error
	MarkProcessed(ctx context.Context, eventID uuid.UUID) error
	ListUnprocessed(ctx context.Context, limit int) ([]models.SystemEvent, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a system event repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, event *models.SystemEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repositoryImpl) MarkProcessed(ctx context.Context, eventID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.SystemEvent{}).
		Where("id = ?", eventID).
		UpdateColumn("processed", true).Error
}

func (r *repositoryImpl) ListUnprocessed(ctx context.Context, limit int) ([]models.SystemEvent, error) {
	var rows []models.SystemEvent
	err := r.db.WithContext(ctx).
		Where("processed = false").
		Order("occurred_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
