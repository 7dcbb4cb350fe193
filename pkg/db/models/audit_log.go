package models

import (
	"encoding/json"
	"time"

	"github.com/fisiohub/clinic-backend/pkg/enums"
	"github.com/google/uuid"
)

// AuditLog records an immutable trace of a domain mutation.
type AuditLog struct {
	ID           uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ClinicID     uuid.UUID       `gorm:"column:clinic_id;type:uuid;not null;index"`
	ActorUserID  *uuid.UUID      `gorm:"column:actor_user_id;type:uuid"`
	Module       enums.Module    `gorm:"column:module;type:module_enum;not null"`
	Action       string          `gorm:"column:action;not null"`
	ResourceType string          `gorm:"column:resource_type;not null"`
	ResourceID   *uuid.UUID      `gorm:"column:resource_id;type:uuid"`
	Metadata     json.RawMessage `gorm:"column:metadata;type:jsonb"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
}
