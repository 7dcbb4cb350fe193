package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/fisiohub/clinic-backend/pkg/enums"
)

// BillingPlan captures the local metadata for a clinic subscription plan.
type BillingPlan struct {
	ID            string                `gorm:"column:id;primaryKey"`
	Name          string                `gorm:"column:name;not null"`
	StripePriceID string                `gorm:"column:stripe_price_id;not null;uniqueIndex"`
	IsDefault     bool                  `gorm:"column:is_default;not null;default:false"`
	TrialDays     int                   `gorm:"column:trial_days;not null;default:0"`
	Interval      enums.BillingInterval `gorm:"column:interval;type:billing_interval;not null"`
	PriceAmount   decimal.Decimal       `gorm:"column:price_amount;type:numeric(12,2);not null"`
	CurrencyCode  string                `gorm:"column:currency_code;not null"`
	Features      pq.StringArray        `gorm:"column:features;type:text[];default:ARRAY[]::text[]"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
