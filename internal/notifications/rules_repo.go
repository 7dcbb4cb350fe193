package notifications

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fisiohub/clinic-backend/pkg/db/models"
	"github.com/fisiohub/clinic-backend/pkg/enums"
)

// RuleRepository exposes persistence for notification rules.
type RuleRepository interface {
	WithTx(tx *gorm.DB) RuleRepository
	Create(ctx context.Context, rule *models.NotificationRule) error
	Update(ctx context.Context, rule *models.NotificationRule) error
	Delete(ctx context.Context, clinicID, ruleID uuid.UUID) (bool, error)
	GetByID(ctx context.Context, clinicID, ruleID uuid.UUID) (*models.NotificationRule, error)
	ListByClinic(ctx context.Context, clinicID uuid.UUID) ([]models.NotificationRule, error)
	Match(ctx context.Context, clinicID uuid.UUID, sourceModule enums.Module, trigger enums.SystemEventType) ([]models.NotificationRule, error)
	CountByClinic(ctx context.Context, clinicID uuid.UUID) (int64, error)
}

type ruleRepositoryImpl struct {
	db *gorm.DB
}

// NewRuleRepository returns a rule repository bound to the provided database.
func NewRuleRepository(db *gorm.DB) RuleRepository {
	return &ruleRepositoryImpl{db: db}
}

func (r *ruleRepositoryImpl) WithTx(tx *gorm.DB) RuleRepository {
	if tx == nil {
		return r
	}
	return &ruleRepositoryImpl{db: tx}
}

func (r *ruleRepositoryImpl) Create(ctx context.Context, rule *models.NotificationRule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

func (r *ruleRepositoryImpl) Update(ctx context.Context, rule *models.NotificationRule) error {
	return r.db.WithContext(ctx).Save(rule).Error
}

func (r *ruleRepositoryImpl) Delete(ctx context.Context, clinicID, ruleID uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("id = ? AND clinic_id = ?", ruleID, clinicID).
		Delete(&models.NotificationRule{})
	return result.RowsAffected > 0, result.Error
}

func (r *ruleRepositoryImpl) GetByID(ctx context.Context, clinicID, ruleID uuid.UUID) (*models.NotificationRule, error) {
	var rule models.NotificationRule
	err := r.db.WithContext(ctx).
		First(&rule, "id = ? AND clinic_id = ?", ruleID, clinicID).Error
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *ruleRepositoryImpl) ListByClinic(ctx context.Context, clinicID uuid.UUID) ([]models.NotificationRule, error) {
	var rules []models.NotificationRule
	err := r.db.WithContext(ctx).
		Where("clinic_id = ?", clinicID).
		Order("created_at ASC").
		Find(&rules).Error
	return rules, err
}

func (r *ruleRepositoryImpl) Match(ctx context.Context, clinicID uuid.UUID, sourceModule enums.Module, trigger enums.SystemEventType) ([]models.NotificationRule, error) {
	var rules []models.NotificationRule
	err := r.db.WithContext(ctx).
		Where("clinic_id = ? AND source_module = ? AND trigger_event = ? AND is_active", clinicID, sourceModule, trigger).
		Order("created_at ASC").
		Find(&rules).Error
	return rules, err
}

func (r *ruleRepositoryImpl) CountByClinic(ctx context.Context, clinicID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.NotificationRule{}).
		Where("clinic_id = ?", clinicID).
		Count(&count).Error
	return count, err
}
