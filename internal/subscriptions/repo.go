package subscriptions

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fisiohub/clinic-backend/pkg/db/models"
)

// Repository persists subscriptions and exposes billing plan metadata.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, subscription *models.Subscription) error
	Update(ctx context.Context, subscription *models.Subscription) error
	GetByClinic(ctx context.Context, clinicID uuid.UUID) (*models.Subscription, error)
	FindByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	GetPlan(ctx context.Context, planID string) (*models.BillingPlan, error)
	GetDefaultPlan(ctx context.Context) (*models.BillingPlan, error)
	ListPlans(ctx context.Context) ([]models.BillingPlan, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Create(subscription).Error
}

func (r *repositoryImpl) Update(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Save(subscription).Error
}

func (r *repositoryImpl) GetByClinic(ctx context.Context, clinicID uuid.UUID) (*models.Subscription, error) {
	var subscription models.Subscription
	err := r.db.WithContext(ctx).
		First(&subscription, "clinic_id = ?", clinicID).Error
	if err != nil {
		return nil, err
	}
	return &subscription, nil
}

// FindByStripeID returns nil without error when no local mirror exists yet.
func (r *repositoryImpl) FindByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	var subscription models.Subscription
	err := r.db.WithContext(ctx).
		First(&subscription, "stripe_subscription_id = ?", stripeSubscriptionID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repositoryImpl) GetPlan(ctx context.Context, planID string) (*models.BillingPlan, error) {
	var plan models.BillingPlan
	err := r.db.WithContext(ctx).
		First(&plan, "id = ?", planID).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *repositoryImpl) GetDefaultPlan(ctx context.Context) (*models.BillingPlan, error) {
	var plan models.BillingPlan
	err := r.db.WithContext(ctx).
		First(&plan, "is_default = true").Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *repositoryImpl) ListPlans(ctx context.Context) ([]models.BillingPlan, error) {
	var plans []models.BillingPlan
	err := r.db.WithContext(ctx).
		Order("price_amount ASC").
		Find(&plans).Error
	return plans, err
}
