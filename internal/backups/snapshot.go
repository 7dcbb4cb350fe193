package backups

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fisiohub/clinic-backend/pkg/db/models"
)

// Snapshot is a full export of one clinic's data at a point in time.
type Snapshot struct {
	ClinicID      uuid.UUID                     `json:"clinicId"`
	ExportedAt    time.Time                     `json:"exportedAt"`
	Patients      []models.Patient              `json:"patients"`
	Appointments  []models.Appointment          `json:"appointments"`
	Prescriptions []models.ExercisePrescription `json:"prescriptions"`
}

// SnapshotSource collects the clinic data a backup exports.
type SnapshotSource interface {
	Collect(ctx context.Context, clinicID uuid.UUID) (*Snapshot, error)
}

type dbSnapshotSource struct {
	db *gorm.DB
}

// NewSnapshotSource reads clinic data straight from the database.
func NewSnapshotSource(db *gorm.DB) SnapshotSource {
	return &dbSnapshotSource{db: db}
}

func (s *dbSnapshotSource) Collect(ctx context.Context, clinicID uuid.UUID) (*Snapshot, error) {
	snapshot := &Snapshot{
		ClinicID:   clinicID,
		ExportedAt: time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).
		Where("clinic_id = ?", clinicID).
		Order("created_at ASC").
		Find(&snapshot.Patients).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).
		Where("clinic_id = ?", clinicID).
		Order("created_at ASC").
		Find(&snapshot.Appointments).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).
		Where("clinic_id = ?", clinicID).
		Order("created_at ASC").
		Find(&snapshot.Prescriptions).Error; err != nil {
		return nil, err
	}
	return snapshot, nil
}
