package tactile

import (
	"errors"
	"fmt"
)

// Validation errors returned before any hardware is touched.
var (
	ErrTooFewPoints     = errors.New("need at least 2 points in the stroke")
	ErrNoAnchors        = errors.New("no actuator anchors available")
	ErrInvalidMode      = errors.New("render mode is not one of Nearest1, Phantom2, Phantom3")
	ErrInvalidIntensity = errors.New("virtual intensity must be in [1,15]")
	ErrInvalidDuration  = errors.New("total playback time must be positive and at most MaxTotalSeconds")
	ErrBusy             = errors.New("a playback is already running (you should call Stop)")
	ErrNotRunning       = errors.New("no playback is running")
)

// HardwareError reports a failed actuator command.
type HardwareError struct {
	ActuatorID int
	On         bool
	Err        error
}

func (e *HardwareError) Error() string {
	state := "OFF"
	if e.On {
		state = "ON"
	}
	return fmt.Sprintf("actuator %d %s: %v", e.ActuatorID, state, e.Err)
}

func (e *HardwareError) Unwrap() error {
	return e.Err
}
