// internal/status/snapshot.go
package status

import (
	"errors"
	"time"
)

// Snapshot is the current status of one device. It carries no memory of
// the past beyond current state.
type Snapshot struct {
	Channel        string
	Device         string
	Health         uint16
	LastErrorCode  uint16
	SecondsInError uint16
	DemotedUntil   time.Time // zero unless Health is HealthDemoted
	At             time.Time
}

// errorCode extracts a best-effort code from an error without assuming
// concrete types. Errors that expose no code map to ErrorGeneric.
func errorCode(err error) uint16 {
	if err == nil {
		return 0
	}

	type coder interface{ ErrorCode() uint16 }

	var c coder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return ErrorGeneric
}
