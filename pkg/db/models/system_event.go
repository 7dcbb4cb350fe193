package models

import (
	"encoding/json"
	"time"

	"github.com/fisiohub/clinic-backend/pkg/enums"
	"github.com/google/uuid"
)

// SystemEvent is an application-level fact recorded by the event bus.
// Rows are immutable after insert except the processed flag, which is
// flipped once dispatch has finished.
type SystemEvent struct {
	ID         uuid.UUID             `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ClinicID   uuid.UUID             `gorm:"column:clinic_id;type:uuid;not null;index"`
	UserID     *uuid.UUID            `gorm:"column:user_id;type:uuid"`
	Type       enums.SystemEventType `gorm:"column:type;type:system_event_type;not null;index"`
	Module     enums.Module          `gorm:"column:module;type:module_enum;not null"`
	Data       json.RawMessage       `gorm:"column:data;type:jsonb"`
	Processed  bool                  `gorm:"column:processed;not null;default:false"`
	OccurredAt time.Time             `gorm:"column:occurred_at;type:timestamptz;not null"`
	CreatedAt  time.Time             `gorm:"column:created_at;autoCreateTime"`
}
