package models

import (
	"encoding/json"
	"time"

	"github.com/fisiohub/clinic-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Notification stores cross-module notification payloads scoped to clinics.
// A row with neither RecipientUserID nor RecipientRole is a broadcast and
// matches any recipient query.
type Notification struct {
	ID                     uuid.UUID                  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ClinicID               uuid.UUID                  `gorm:"column:clinic_id;type:uuid;not null;index"`
	EventID                *uuid.UUID                 `gorm:"column:event_id;type:uuid"`
	RuleID                 *uuid.UUID                 `gorm:"column:rule_id;type:uuid"`
	Type                   enums.SystemEventType      `gorm:"column:type;type:system_event_type;not null"`
	SourceModule           enums.Module               `gorm:"column:source_module;type:module_enum;not null"`
	TargetModules          pq.StringArray             `gorm:"column:target_modules;type:text[];not null"`
	Priority               enums.NotificationPriority `gorm:"column:priority;type:notification_priority;not null;default:'medium'"`
	Title                  string                     `gorm:"column:title;type:text;not null"`
	Message                string                     `gorm:"column:message;type:text;not null"`
	Data                   json.RawMessage            `gorm:"column:data;type:jsonb"`
	ActionURL              *string                    `gorm:"column:action_url;type:text"`
	RecipientUserID        *uuid.UUID                 `gorm:"column:recipient_user_id;type:uuid"`
	RecipientRole          *enums.UserRole            `gorm:"column:recipient_role;type:user_role"`
	RequiresAcknowledgment bool                       `gorm:"column:requires_acknowledgment;not null;default:false"`
	ReadAt                 *time.Time                 `gorm:"column:read_at;type:timestamptz"`
	AcknowledgedAt         *time.Time                 `gorm:"column:acknowledged_at;type:timestamptz"`
	ExpiresAt              *time.Time                 `gorm:"column:expires_at;type:timestamptz"`
	CreatedAt              time.Time                  `gorm:"column:created_at;type:timestamptz;default:now()"`
}
