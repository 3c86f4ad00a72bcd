package control

import (
	"math"
	"time"

	"github.com/golang/geo/r3"

	"github.com/andrelim435/bicopter/config"
)

// Airmode value that keeps yaw stick integration active regardless of
// throttle.
const airmodeRollPitchYaw = 2

// throttleCurve maps throttle stick input in [0, 1] to vertical thrust.
func throttleCurve(p config.Params, stick float64) float64 {
	switch p.ThrottleCurve {
	case 1: // linear rescale, no hover point
		return p.ThrottleMin + stick*(p.ThrottleMax-p.ThrottleMin)

	default: // 0 or other: piecewise linear through hover throttle at mid-stick
		if stick < 0.5 {
			return (p.ThrottleHover-p.ThrottleMin)/0.5*stick + p.ThrottleMin
		}
		return (p.ThrottleMax-p.ThrottleHover)/0.5*(stick-1.0) + p.ThrottleMax
	}
}

// landingGearState runs the gear latch. The gear only goes up if the pilot
// toggled the switch to off at some point since the last landing; a switch
// left in the up position across a takeoff is ignored so the gear is not
// retracted immediately on liftoff.
func (l *Loop) landingGearState() float64 {
	if l.landDetected.Landed {
		l.gearStateInitialized = false
	}
	gear := GearDown
	if l.manual.GearSwitch == SwitchPosOn && l.gearStateInitialized {
		gear = GearUp
	} else if l.manual.GearSwitch == SwitchPosOff {
		// Switching the gear off puts it into a safe defined state
		l.gearStateInitialized = true
	}
	return gear
}

// generateAttitudeSetpoint synthesizes an attitude setpoint from the
// current manual sticks and publishes it, together with the landing gear
// command. Called once per fresh attitude sample while in a pure
// manual/stabilized mode.
func (l *Loop) generateAttitudeSetpoint(dt float64, resetYaw bool) {
	var sp AttitudeSetpoint
	yaw := yawFromQuaternion(normalized(l.att.Q))

	// reset the yaw reference to the current heading if needed
	if resetYaw {
		l.manYawSp = yaw
	} else if l.manual.Z > 0.05 || l.p.Airmode == airmodeRollPitchYaw {
		sp.YawSpMoveRate = l.manual.R * l.manYawRateMax
		l.manYawSp = wrapPi(l.manYawSp + sp.YawSpMoveRate*dt)
	}

	// Roll/pitch sticks command a tilt direction in the XY plane and a tilt
	// angle equal to the vector's magnitude. The axis-angle vector is the
	// 90-degree rotation of the stick vector, so the vehicle flies toward
	// the direction the stick points and stick changes stay linear.
	x := l.manual.X * l.manTiltMax
	y := l.manual.Y * l.manTiltMax

	v := r3.Vector{X: y, Y: -x}
	if n := v.Norm(); n > l.manTiltMax {
		v = v.Mul(l.manTiltMax / n)
	}

	roll, pitch, yawOffset := fromQuaternion(fromAxisAngle(v))
	sp.RollBody = roll
	sp.PitchBody = pitch
	// The axis-angle rotation shifts yaw as well at higher tilt angles;
	// fold that offset into the yaw setpoint.
	sp.YawBody = l.manYawSp + yawOffset

	if l.status.IsVTOL {
		// Correct roll/pitch for the heading error between the yaw setpoint
		// and the current yaw so the physical tilt direction matches the
		// pilot's intent even when a large yaw error is present. The same
		// correction couples fast roll/pitch changes into oscillations at
		// high tilt on multirotors, so it stays gated to VTOL airframes.
		yawError := wrapPi(sp.YawBody - yaw)

		zUnit := r3.Vector{Z: 1}
		zRollPitch := rotate(toQuaternion(sp.RollBody, sp.PitchBody, 0), zUnit)
		zRollPitch = rotate(toQuaternion(0, 0, -yawError), zRollPitch)

		// re-decompose; valid while roll stays clear of +-Pi/2
		sp.RollBody = -math.Asin(zRollPitch.Y)
		sp.PitchBody = math.Atan2(zRollPitch.X, zRollPitch.Z)
	}

	sp.Q = toQuaternion(sp.RollBody, sp.PitchBody, sp.YawBody)
	sp.QValid = true

	// thrust acts against the body z axis
	sp.ThrustBody.Z = -throttleCurve(l.p, l.manual.Z)
	sp.Timestamp = time.Now()
	l.bus.Publish(TopicAttitudeSetpoint, sp)

	// republish the shared gear record with the latched command
	l.landingGear.State = l.landingGearState()
	l.landingGear.Timestamp = time.Now()
	l.bus.Publish(TopicLandingGear, l.landingGear)
}
