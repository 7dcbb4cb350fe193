package enums

import "fmt"

// PatientStatus maps to the patient_status enum in Postgres.
type PatientStatus string

const (
	PatientStatusActive     PatientStatus = "active"
	PatientStatusDischarged PatientStatus = "discharged"
	PatientStatusArchived   PatientStatus = "archived"
)

var validPatientStatuses = []PatientStatus{
	PatientStatusActive,
	PatientStatusDischarged,
	PatientStatusArchived,
}

// IsValid checks whether the status matches the canonical enum.
func (s PatientStatus) IsValid() bool {
	for _, candidate := range validPatientStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParsePatientStatus converts raw strings into PatientStatus.
func ParsePatientStatus(value string) (PatientStatus, error) {
	for _, candidate := range validPatientStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid patient status %q", value)
}
