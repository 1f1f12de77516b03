package types

import "fmt"

// OperationMode is the operating mode of a site, stored as default_real_mode
// in the site configuration.
type OperationMode string

const (
	// OperationModeSelfConsumption uses stored and solar energy first.
	OperationModeSelfConsumption OperationMode = "self_consumption"
	// OperationModeAutonomous lets the cloud optimize for cost (time-based control).
	OperationModeAutonomous OperationMode = "autonomous"
	// OperationModeBackup keeps the battery full for outages.
	OperationModeBackup OperationMode = "backup"
)

// Valid reports whether m is a mode the FleetAPI accepts.
func (m OperationMode) Valid() bool {
	switch m {
	case OperationModeSelfConsumption, OperationModeAutonomous, OperationModeBackup:
		return true
	}
	return false
}

// ParseOperationMode validates a mode string.
func ParseOperationMode(s string) (OperationMode, error) {
	m := OperationMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown operation mode: %q", s)
	}
	return m, nil
}

// ValidBackupReserve reports whether p is an allowed backup reserve percentage.
func ValidBackupReserve(p int) bool {
	return p >= 0 && p <= 100
}
