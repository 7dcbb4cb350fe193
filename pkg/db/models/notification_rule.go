package models

import (
	"time"

	dbtypes "github.com/fisiohub/clinic-backend/pkg/db/types"
	"github.com/fisiohub/clinic-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// NotificationRule maps a triggering event to a notification template and
// recipient filter. Rules are seeded per clinic on first use and editable
// afterwards.
type NotificationRule struct {
	ID                  uuid.UUID                  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ClinicID            uuid.UUID                  `gorm:"column:clinic_id;type:uuid;not null;index"`
	SourceModule        enums.Module               `gorm:"column:source_module;type:module_enum;not null"`
	TargetModules       pq.StringArray             `gorm:"column:target_modules;type:text[];not null"`
	TriggerEvent        enums.SystemEventType      `gorm:"column:trigger_event;type:system_event_type;not null"`
	TitleTemplate       string                     `gorm:"column:title_template;type:text;not null"`
	MessageTemplate     string                     `gorm:"column:message_template;type:text;not null"`
	ActionURLTemplate   *string                    `gorm:"column:action_url_template;type:text"`
	Priority            enums.NotificationPriority `gorm:"column:priority;type:notification_priority;not null;default:'medium'"`
	RecipientRoles      pq.StringArray             `gorm:"column:recipient_roles;type:text[];default:ARRAY[]::text[]"`
	RecipientUserIDs    dbtypes.UUIDArray          `gorm:"column:recipient_user_ids;type:uuid[];default:ARRAY[]::uuid[]"`
	RequiresAck         bool                       `gorm:"column:requires_ack;not null;default:false"`
	ExpiresAfterSeconds *int64                     `gorm:"column:expires_after_seconds"`
	IsActive            bool                       `gorm:"column:is_active;not null;default:true"`
	CreatedAt           time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}

// ExpiresAfter returns the configured notification TTL, or zero when unset.
func (r NotificationRule) ExpiresAfter() time.Duration {
	if r.ExpiresAfterSeconds == nil || *r.ExpiresAfterSeconds <= 0 {
		return 0
	}
	return time.Duration(*r.ExpiresAfterSeconds) * time.Second
}
