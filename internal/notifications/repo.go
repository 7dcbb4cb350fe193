package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fisiohub/clinic-backend/pkg/db/models"
	"github.com/fisiohub/clinic-backend/pkg/enums"
	"github.com/fisiohub/clinic-backend/pkg/pagination"
)

// Repository exposes persistence helpers for notifications.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, notification *models.Notification) error
	ListByModule(ctx context.Context, params listParams) ([]models.Notification, *pagination.Cursor, error)
	MarkRead(ctx context.Context, clinicID, notificationID uuid.UUID, now time.Time) (markResult, error)
	Acknowledge(ctx context.Context, clinicID, notificationID uuid.UUID, now time.Time) (markResult, error)
	MarkAllRead(ctx context.Context, clinicID uuid.UUID, recipientUserID *uuid.UUID, now time.Time) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type listParams struct {
	ClinicID        uuid.UUID
	TargetModule    enums.Module
	RecipientUserID *uuid.UUID
	RecipientRole   *enums.UserRole
	UnreadOnly      bool
	Limit           int
	Cursor          *pagination.Cursor
}

type markResult struct {
	Updated bool
	Found   bool
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a notifications repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

// ListByModule applies a strict clinic filter and a permissive recipient
// filter: rows without a recipient axis are broadcasts and match everyone.
func (r *repositoryImpl) ListByModule(ctx context.Context, params listParams) ([]models.Notification, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)

	query := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("clinic_id = ?", params.ClinicID)
	query = r.whereTargetModule(query, params.TargetModule)

	recipient := r.db.Where("recipient_user_id IS NULL AND recipient_role IS NULL")
	if params.RecipientUserID != nil {
		recipient = recipient.Or("recipient_user_id = ?", *params.RecipientUserID)
	}
	if params.RecipientRole != nil {
		recipient = recipient.Or("recipient_role = ?", *params.RecipientRole)
	}
	query = query.Where(recipient)

	if params.UnreadOnly {
		query = query.Where("read_at IS NULL")
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var notifications []models.Notification
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&notifications).Error; err != nil {
		return nil, nil, err
	}

	if len(notifications) > normalized {
		next := notifications[normalized]
		notifications = notifications[:normalized]
		return notifications, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return notifications, nil, nil
}

// whereTargetModule filters on membership in the target_modules array.
// Postgres stores a real text[]; sqlite stores the pq text form
// ("{patients,billing}"), so membership is a delimiter-aware LIKE there.
func (r *repositoryImpl) whereTargetModule(query *gorm.DB, module enums.Module) *gorm.DB {
	if r.db.Dialector.Name() == "postgres" {
		return query.Where("? = ANY(target_modules)", string(module))
	}
	return query.Where(
		"(',' || TRIM(target_modules, '{}') || ',') LIKE ?",
		"%,"+string(module)+",%",
	)
}

func (r *repositoryImpl) MarkRead(ctx context.Context, clinicID, notificationID uuid.UUID, now time.Time) (markResult, error) {
	return r.setOnce(ctx, clinicID, notificationID, "read_at", now)
}

func (r *repositoryImpl) Acknowledge(ctx context.Context, clinicID, notificationID uuid.UUID, now time.Time) (markResult, error) {
	return r.setOnce(ctx, clinicID, notificationID, "acknowledged_at", now)
}

// setOnce only writes the column when it is still NULL, so repeated calls
// keep the first timestamp.
func (r *repositoryImpl) setOnce(ctx context.Context, clinicID, notificationID uuid.UUID, column string, now time.Time) (markResult, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND clinic_id = ? AND "+column+" IS NULL", notificationID, clinicID).
		UpdateColumn(column, now)
	if result.Error != nil {
		return markResult{}, result.Error
	}

	mark := markResult{Updated: result.RowsAffected > 0}
	if mark.Updated {
		mark.Found = true
		return mark, nil
	}

	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND clinic_id = ?", notificationID, clinicID).
		Count(&count).Error; err != nil {
		return markResult{}, err
	}
	mark.Found = count > 0
	return mark, nil
}

func (r *repositoryImpl) MarkAllRead(ctx context.Context, clinicID uuid.UUID, recipientUserID *uuid.UUID, now time.Time) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("clinic_id = ? AND read_at IS NULL", clinicID)
	if recipientUserID != nil {
		query = query.Where("recipient_user_id IS NULL OR recipient_user_id = ?", *recipientUserID)
	}
	result := query.UpdateColumn("read_at", now)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repositoryImpl) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Delete(&models.Notification{})
	return result.RowsAffected, result.Error
}

func (r *repositoryImpl) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.Notification{})
	return result.RowsAffected, result.Error
}
