package enums

import "fmt"

// BackupStatus tracks the lifecycle of a clinic backup run.
type BackupStatus string

const (
	BackupStatusRunning   BackupStatus = "running"
	BackupStatusCompleted BackupStatus = "completed"
	BackupStatusFailed    BackupStatus = "failed"
	BackupStatusCancelled BackupStatus = "cancelled"
)

var validBackupStatuses = []BackupStatus{
	BackupStatusRunning,
	BackupStatusCompleted,
	BackupStatusFailed,
	BackupStatusCancelled,
}

// IsValid checks whether the status matches the canonical enum.
func (s BackupStatus) IsValid() bool {
	for _, candidate := range validBackupStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseBackupStatus converts raw strings into BackupStatus.
func ParseBackupStatus(value string) (BackupStatus, error) {
	for _, candidate := range validBackupStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid backup status %q", value)
}
