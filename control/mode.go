package control

import "math"

// Mode selects the source of the rate setpoint for one cycle. Exactly one
// mode is active per cycle; flight termination is an orthogonal override
// applied after selection.
type Mode int

const (
	// ModeAttitudeControl closes the attitude loop: setpoint synthesis
	// (when in a pure manual/stabilized mode) followed by the attitude
	// error law.
	ModeAttitudeControl Mode = iota
	// ModeManualAcro maps sticks through the super-exponential response
	// curve directly into a rate setpoint.
	ModeManualAcro
	// ModeExternalRate consumes an externally published rate setpoint
	// verbatim.
	ModeExternalRate
)

func (m Mode) String() string {
	switch m {
	case ModeAttitudeControl:
		return "attitude"
	case ModeManualAcro:
		return "acro"
	case ModeExternalRate:
		return "external-rate"
	}
	return "unknown"
}

// decideMode picks the rate-setpoint source for this cycle. cm must
// already have the rattitude override applied to AttitudeEnabled.
func decideMode(cm ControlMode, vs VehicleStatus, isTailsitter bool) Mode {
	isHovering := vs.IsRotaryWing && !vs.InTransitionMode
	isTailsitterTransition := vs.InTransitionMode && isTailsitter

	if cm.AttitudeEnabled && (isHovering || isTailsitterTransition) {
		return ModeAttitudeControl
	}
	if cm.ManualEnabled && isHovering {
		return ModeManualAcro
	}
	return ModeExternalRate
}

// rattitudeOverride transiently disables the attitude path whenever roll
// or pitch stick deflection exceeds the configured threshold, letting the
// cycle fall through to direct rate control.
func rattitudeOverride(cm ControlMode, manual ManualControl, threshold float64) ControlMode {
	if cm.RattitudeEnabled {
		cm.AttitudeEnabled = math.Abs(manual.Y) <= threshold &&
			math.Abs(manual.X) <= threshold
	}
	return cm
}
