package enums

import "fmt"

// SystemEventType names an application-level fact broadcast on the event bus.
type SystemEventType string

const (
	EventPatientCreated        SystemEventType = "patient_created"
	EventPatientUpdated        SystemEventType = "patient_updated"
	EventPatientArchived       SystemEventType = "patient_archived"
	EventAppointmentScheduled  SystemEventType = "appointment_scheduled"
	EventAppointmentCompleted  SystemEventType = "appointment_completed"
	EventAppointmentCancelled  SystemEventType = "appointment_cancelled"
	EventExercisePrescribed    SystemEventType = "exercise_prescribed"
	EventPaymentOverdue        SystemEventType = "payment_overdue"
	EventSubscriptionActivated SystemEventType = "subscription_activated"
	EventSubscriptionCanceled  SystemEventType = "subscription_canceled"
	EventBackupCompleted       SystemEventType = "backup_completed"
	EventBackupFailed          SystemEventType = "backup_failed"
)

var validSystemEventTypes = []SystemEventType{
	EventPatientCreated,
	EventPatientUpdated,
	EventPatientArchived,
	EventAppointmentScheduled,
	EventAppointmentCompleted,
	EventAppointmentCancelled,
	EventExercisePrescribed,
	EventPaymentOverdue,
	EventSubscriptionActivated,
	EventSubscriptionCanceled,
	EventBackupCompleted,
	EventBackupFailed,
}

// SystemEventTypes returns the canonical event type set.
func SystemEventTypes() []SystemEventType {
	out := make([]SystemEventType, len(validSystemEventTypes))
	copy(out, validSystemEventTypes)
	return out
}

// IsValid checks whether the event type matches the canonical set.
func (t SystemEventType) IsValid() bool {
	for _, candidate := range validSystemEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseSystemEventType converts raw strings into SystemEventType.
func ParseSystemEventType(value string) (SystemEventType, error) {
	for _, candidate := range validSystemEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid system event type %q", value)
}
