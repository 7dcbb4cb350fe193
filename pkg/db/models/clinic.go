package models

import (
	"time"

	"github.com/google/uuid"
)

// Clinic represents the canonical tenant model: every domain row is scoped to one.
type Clinic struct {
	ID                 uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name               string     `gorm:"column:name;not null"`
	LegalName          *string    `gorm:"column:legal_name"`
	Email              *string    `gorm:"column:email"`
	Phone              *string    `gorm:"column:phone"`
	StripeCustomerID   *string    `gorm:"column:stripe_customer_id"`
	SubscriptionActive bool       `gorm:"column:subscription_active;not null;default:false"`
	OwnerID            uuid.UUID  `gorm:"column:owner;type:uuid;not null"`
	LastActiveAt       *time.Time `gorm:"column:last_active_at"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
