package control

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
)

// controlRates runs the rate-error law and control allocation on a fresh
// gyro sample. It is called on every gyro update while rate control is
// enabled, regardless of attitude-sample cadence.
func (l *Loop) controlRates(sample GyroSample) {
	rates := correctRates(sample.Rate, l.selectedGyro, l.sensorCorrection, l.sensorBias, l.boardRot)

	ratesFiltered := l.lpFilter.Apply(rates)

	// Rate error shaping: fixed scale, pitch attenuated, yaw open-loop.
	ratesErr := r3.Vector{
		X: ratesFiltered.X / 5,
		Y: ratesFiltered.Y / 5 * 0.5,
		Z: 0,
	}

	// Per rotor group: gain block on the rate error, plus the attitude
	// law's partial output, plus the externally supplied feed-forward.
	ff := l.partialControls.Control
	l.virtualControl[0] = l.gains.applyRate(0, ratesErr).
		Add(l.pControlAtt[0]).
		Add(r3.Vector{X: ff[0], Y: ff[1], Z: ff[2]})
	l.virtualControl[1] = l.gains.applyRate(1, ratesErr).
		Add(l.pControlAtt[1]).
		Add(r3.Vector{X: ff[3], Y: ff[4], Z: ff[5]})

	l.virtualControl[0], l.virtualControl[1] = redistributeThrust(
		l.virtualControl[0], l.virtualControl[1], l.p.ThrustFloor)

	l.convertVirtualInput()

	l.ratesPrev = rates
	l.ratesPrevFiltered = ratesFiltered
}

// redistributeThrust enforces the non-negative-thrust-per-rotor invariant:
// a negative z component is clamped to the floor and the full deficit is
// added to the other rotor group.
func redistributeThrust(v0, v1 r3.Vector, floor float64) (r3.Vector, r3.Vector) {
	if v0.Z < 0 {
		v1.Z += floor - v0.Z
		v0.Z = floor
	} else if v1.Z < 0 {
		v0.Z += floor - v1.Z
		v1.Z = floor
	}
	return v0, v1
}

// convertVirtualInput is the control allocation: each virtual force vector
// (Fx, Fy, Fz) becomes two tilt angles and a thrust magnitude for its
// rotor group.
func (l *Loop) convertVirtualInput() {
	coup := l.p.TiltCoupling
	maxThrust := l.p.MaxThrust

	for i := 0; i < 2; i++ {
		v := l.virtualControl[i]
		pitchTilt := -math.Atan2(v.Y, v.Z) / coup
		rollTilt := math.Atan2(v.X, v.Z/math.Cos(pitchTilt)) / coup
		l.attControl[i] = r3.Vector{
			X: rollTilt,
			Y: pitchTilt,
			Z: v.Norm() / maxThrust,
		}
	}

	// mean thrust across the groups, kept for arming/safety logic
	l.attControlThrust = (l.attControl[0].Z + l.attControl[1].Z) / 2
}

// finite replaces a non-finite value with zero. Numeric degeneracy from the
// allocation step is scrubbed here, at the output boundary only, so a
// corrupted channel does not invalidate the others.
func finite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}

// publishActuatorControls finalizes and publishes the actuator command.
// Channels 0-2 carry rotor group 0, channels 5-7 rotor group 1, channel 3
// the shared thrust setpoint. Publication is suppressed while the actuator
// circuit breaker is engaged; the pipeline still computes.
func (l *Loop) publishActuatorControls(sample GyroSample) {
	var out ActuatorControls
	out.Control[0] = finite(l.attControl[0].X)
	out.Control[1] = finite(l.attControl[0].Y)
	out.Control[2] = finite(l.attControl[0].Z)
	out.Control[5] = finite(l.attControl[1].X)
	out.Control[6] = finite(l.attControl[1].Y)
	out.Control[7] = finite(l.attControl[1].Z)
	out.Control[3] = finite(l.thrustSp)
	out.Timestamp = time.Now()
	out.TimestampSample = sample.Timestamp

	// scale effort by battery status
	if l.p.BatteryScaleEnable && l.battery.Scale > 0 {
		for i := 0; i < 4; i++ {
			out.Control[i] *= l.battery.Scale
		}
	}

	if !l.actuatorsCircuitBreaker {
		l.bus.Publish(TopicActuatorControls, out)
	}
}

// publishRateCtrlStatus publishes the diagnostic record for the last rate
// pass: filtered rate and rate integral per axis. The integral path is
// disabled, its slot stays for diagnostics.
func (l *Loop) publishRateCtrlStatus() {
	l.bus.Publish(TopicRateCtrlStatus, RateCtrlStatus{
		Timestamp: time.Now(),
		Rates:     l.ratesPrevFiltered,
		RatesInt:  l.ratesInt,
	})
}

// publishRatesSetpoint publishes the rate setpoint currently driving the
// rate law, for downstream consumers and diagnostics.
func (l *Loop) publishRatesSetpoint() {
	l.bus.Publish(TopicRatesSetpoint, RatesSetpoint{
		Timestamp:  time.Now(),
		Rates:      l.ratesSp,
		ThrustBody: r3.Vector{Z: -l.thrustSp},
	})
}
