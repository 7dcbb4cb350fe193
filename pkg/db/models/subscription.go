package models

import (
	"time"

	"github.com/fisiohub/clinic-backend/pkg/enums"
	"github.com/google/uuid"
)

// Subscription captures the local mirror of a Stripe subscription for a clinic.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ClinicID             uuid.UUID                `gorm:"column:clinic_id;type:uuid;not null;uniqueIndex"`
	PlanID               string                   `gorm:"column:plan_id;not null"`
	StripeSubscriptionID *string                  `gorm:"column:stripe_subscription_id;uniqueIndex"`
	Status               enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'incomplete'"`
	CurrentPeriodEnd     *time.Time               `gorm:"column:current_period_end"`
	CanceledAt           *time.Time               `gorm:"column:canceled_at"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
