package enums

import "fmt"

// Module identifies a feature area that produces or consumes events.
type Module string

const (
	ModulePatients      Module = "patients"
	ModuleAppointments  Module = "appointments"
	ModuleExercises     Module = "exercises"
	ModuleBilling       Module = "billing"
	ModuleBackups       Module = "backups"
	ModuleAudit         Module = "audit"
	ModuleNotifications Module = "notifications"
	ModuleSystem        Module = "system"
)

var validModules = []Module{
	ModulePatients,
	ModuleAppointments,
	ModuleExercises,
	ModuleBilling,
	ModuleBackups,
	ModuleAudit,
	ModuleNotifications,
	ModuleSystem,
}

// IsValid checks whether the module matches the canonical set.
func (m Module) IsValid() bool {
	for _, candidate := range validModules {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseModule converts raw strings into Module.
func ParseModule(value string) (Module, error) {
	for _, candidate := range validModules {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid module %q", value)
}
