// internal/status/constants.go
package status

// ---- HEALTH CODES ----

// HealthUnknown is the boot state, and the state after a device is
// re-enabled or released from demotion, until the next read settles it.
const HealthUnknown uint16 = 0

// HealthOK means the last block read on the device succeeded.
const HealthOK uint16 = 1

// HealthError means the last block read failed or the link is down.
const HealthError uint16 = 2

// HealthDemoted means reads are suspended by the circuit breaker.
const HealthDemoted uint16 = 3

// HealthDisabled means the device was switched off at runtime.
const HealthDisabled uint16 = 4

// ---- LIMITS ----

// MaxSecondsInError is where the seconds counter saturates. It never wraps.
const MaxSecondsInError uint16 = 65535

// ErrorGeneric is the last-error code for failures that carry no
// device-defined code.
const ErrorGeneric uint16 = 1

// HealthName returns the lower-case name of a health code.
func HealthName(h uint16) string {
	switch h {
	case HealthOK:
		return "ok"
	case HealthError:
		return "error"
	case HealthDemoted:
		return "demoted"
	case HealthDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}
