package models

import (
	"time"

	"github.com/fisiohub/clinic-backend/pkg/enums"
	"github.com/google/uuid"
)

// Appointment is a scheduled treatment slot for a patient with a physiotherapist.
type Appointment struct {
	ID          uuid.UUID               `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ClinicID    uuid.UUID               `gorm:"column:clinic_id;type:uuid;not null;index"`
	PatientID   uuid.UUID               `gorm:"column:patient_id;type:uuid;not null;index"`
	TherapistID uuid.UUID               `gorm:"column:therapist_id;type:uuid;not null;index"`
	StartsAt    time.Time               `gorm:"column:starts_at;type:timestamptz;not null"`
	EndsAt      time.Time               `gorm:"column:ends_at;type:timestamptz;not null"`
	Status      enums.AppointmentStatus `gorm:"column:status;type:appointment_status;not null;default:'scheduled'"`
	Notes       *string                 `gorm:"column:notes;type:text"`
	CompletedAt *time.Time              `gorm:"column:completed_at"`
	CancelledAt *time.Time              `gorm:"column:cancelled_at"`
	CreatedAt   time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
