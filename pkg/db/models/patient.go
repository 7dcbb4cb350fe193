package models

import (
	"time"

	"github.com/fisiohub/clinic-backend/pkg/enums"
	"github.com/google/uuid"
)

// Patient is a clinic-scoped medical record.
type Patient struct {
	ID        uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ClinicID  uuid.UUID           `gorm:"column:clinic_id;type:uuid;not null;index"`
	FullName  string              `gorm:"column:full_name;not null"`
	Email     *string             `gorm:"column:email"`
	Phone     *string             `gorm:"column:phone"`
	BirthDate *time.Time          `gorm:"column:birth_date;type:date"`
	Diagnosis *string             `gorm:"column:diagnosis;type:text"`
	Notes     *string             `gorm:"column:notes;type:text"`
	Status    enums.PatientStatus `gorm:"column:status;type:patient_status;not null;default:'active'"`
	CreatedBy uuid.UUID           `gorm:"column:created_by;type:uuid;not null"`
	CreatedAt time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
