package dosing

import (
	"errors"
	"fmt"
)

var (
	// ErrShuttingDown is returned by Evaluate once Close has been called.
	// In-flight dispenses finish; new cycles are rejected.
	ErrShuttingDown = errors.New("dosing: controller shutting down")

	// ErrSourceUnavailable is what sensor sources return when no reading
	// can be produced at all (bus down, endpoint unreachable).
	ErrSourceUnavailable = errors.New("dosing: sensor source unavailable")
)

// SensorFault reports an unusable sensor sample. Critical faults (both
// channels missing) halt the cycle and count against the fault handler;
// warning-grade faults are repaired in place and never surface as errors.
type SensorFault struct {
	Reason string
}

func (e *SensorFault) Error() string {
	return "sensor fault: " + e.Reason
}

// ActuatorFault wraps a failed dispense with the pump that caused it.
type ActuatorFault struct {
	PumpID string
	Err    error
}

func (e *ActuatorFault) Error() string {
	return fmt.Sprintf("pump %q dispense failed: %v", e.PumpID, e.Err)
}

func (e *ActuatorFault) Unwrap() error { return e.Err }
