package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Exercise is a library entry clinics prescribe from.
type Exercise struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ClinicID     uuid.UUID      `gorm:"column:clinic_id;type:uuid;not null;index"`
	Name         string         `gorm:"column:name;not null"`
	Description  *string        `gorm:"column:description;type:text"`
	BodyRegions  pq.StringArray `gorm:"column:body_regions;type:text[];default:ARRAY[]::text[]"`
	VideoURL     *string        `gorm:"column:video_url"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// ExercisePrescription ties an exercise to a patient with dosage parameters.
type ExercisePrescription struct {
	ID           uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ClinicID     uuid.UUID  `gorm:"column:clinic_id;type:uuid;not null;index"`
	PatientID    uuid.UUID  `gorm:"column:patient_id;type:uuid;not null;index"`
	ExerciseID   uuid.UUID  `gorm:"column:exercise_id;type:uuid;not null"`
	PrescribedBy uuid.UUID  `gorm:"column:prescribed_by;type:uuid;not null"`
	Sets         int        `gorm:"column:sets;not null"`
	Reps         int        `gorm:"column:reps;not null"`
	Frequency    string     `gorm:"column:frequency;not null"`
	Instructions *string    `gorm:"column:instructions;type:text"`
	EndsAt       *time.Time `gorm:"column:ends_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
