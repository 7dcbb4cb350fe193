package models

import (
	"encoding/json"
	"time"

	"github.com/fisiohub/clinic-backend/pkg/enums"
	"github.com/google/uuid"
)

// BackupRecord tracks one clinic data export run.
type BackupRecord struct {
	ID           uuid.UUID          `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ClinicID     uuid.UUID          `gorm:"column:clinic_id;type:uuid;not null;index"`
	Status       enums.BackupStatus `gorm:"column:status;type:backup_status;not null;default:'running'"`
	Trigger      string             `gorm:"column:trigger;not null"`
	Payload      json.RawMessage    `gorm:"column:payload;type:jsonb"`
	SizeBytes    int64              `gorm:"column:size_bytes;not null;default:0"`
	PatientCount int                `gorm:"column:patient_count;not null;default:0"`
	Error        *string            `gorm:"column:error;type:text"`
	StartedAt    time.Time          `gorm:"column:started_at;type:timestamptz;not null"`
	FinishedAt   *time.Time         `gorm:"column:finished_at;type:timestamptz"`
	CreatedAt    time.Time          `gorm:"column:created_at;autoCreateTime"`
}
