package control

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"

	"github.com/andrelim435/bicopter/config"
)

func TestThrottleCurveHover(t *testing.T) {
	p := config.Defaults()

	if got := throttleCurve(p, 0); math.Abs(got-p.ThrottleMin) > 1e-12 {
		t.Errorf("zero stick = %v, want %v", got, p.ThrottleMin)
	}
	if got := throttleCurve(p, 0.5); math.Abs(got-p.ThrottleHover) > 1e-12 {
		t.Errorf("mid stick = %v, want hover %v", got, p.ThrottleHover)
	}
	if got := throttleCurve(p, 1); math.Abs(got-p.ThrottleMax) > 1e-12 {
		t.Errorf("full stick = %v, want %v", got, p.ThrottleMax)
	}

	prev := throttleCurve(p, 0)
	for s := 0.02; s <= 1.0001; s += 0.02 {
		cur := throttleCurve(p, s)
		if cur < prev {
			t.Errorf("curve not monotone at stick %v: %v < %v", s, cur, prev)
		}
		prev = cur
	}
}

func TestThrottleCurveLinear(t *testing.T) {
	p := config.Defaults()
	p.ThrottleCurve = 1
	p.ThrottleMin = 0.1
	p.ThrottleMax = 0.9

	for _, s := range []float64{0, 0.25, 0.5, 0.75, 1} {
		want := 0.1 + s*0.8
		if got := throttleCurve(p, s); math.Abs(got-want) > 1e-12 {
			t.Errorf("stick %v = %v, want %v", s, got, want)
		}
	}
}

func TestGenerateAttitudeSetpointLevel(t *testing.T) {
	b, l := newTestLoop(t)
	spSub := b.Subscribe(TopicAttitudeSetpoint)
	gearSub := b.Subscribe(TopicLandingGear)

	l.manual = ManualControl{Z: 0.5}
	l.generateAttitudeSetpoint(0.004, true)

	v, ok := spSub.Poll()
	if !ok {
		t.Fatal("no attitude setpoint published")
	}
	sp := v.(AttitudeSetpoint)
	if !sp.QValid {
		t.Error("setpoint quaternion not marked valid")
	}
	if math.Abs(sp.RollBody) > 1e-12 || math.Abs(sp.PitchBody) > 1e-12 || math.Abs(sp.YawBody) > 1e-12 {
		t.Errorf("centered sticks gave (%v, %v, %v)", sp.RollBody, sp.PitchBody, sp.YawBody)
	}
	if math.Abs(sp.ThrustBody.Z+0.5) > 1e-12 {
		t.Errorf("thrust = %v, want -0.5", sp.ThrustBody.Z)
	}

	gv, ok := gearSub.Poll()
	if !ok {
		t.Fatal("no landing gear record published")
	}
	if gear := gv.(LandingGear); gear.State != GearDown {
		t.Errorf("gear state %v, want down", gear.State)
	}

	// the latched command flows into the published record
	l.manual.GearSwitch = SwitchPosOff
	l.generateAttitudeSetpoint(0.004, true)
	l.manual.GearSwitch = SwitchPosOn
	l.generateAttitudeSetpoint(0.004, true)
	gv, _ = gearSub.Poll()
	if gear := gv.(LandingGear); gear.State != GearUp {
		t.Errorf("gear state %v after cycling the switch, want up", gear.State)
	}
}

func TestGenerateAttitudeSetpointTiltClamp(t *testing.T) {
	b, l := newTestLoop(t)
	spSub := b.Subscribe(TopicAttitudeSetpoint)

	// diagonal full deflection exceeds the tilt limit before clamping
	l.manual = ManualControl{X: 1, Y: 1, Z: 0.5}
	l.generateAttitudeSetpoint(0.004, true)

	v, _ := spSub.Poll()
	sp := v.(AttitudeSetpoint)

	// the commanded tilt is the angle between the rotated and the inertial z axis
	tilt := math.Acos(rotate(sp.Q, r3.Vector{Z: 1}).Z)
	if math.Abs(tilt-l.manTiltMax) > 1e-9 {
		t.Errorf("tilt %v, want clamped to %v", tilt, l.manTiltMax)
	}
}

func TestYawReference(t *testing.T) {
	b, l := newTestLoop(t)
	spSub := b.Subscribe(TopicAttitudeSetpoint)

	// yaw stick advances the reference by rate * dt
	l.manual = ManualControl{R: 1, Z: 0.6}
	l.generateAttitudeSetpoint(0.02, false)
	v, _ := spSub.Poll()
	sp := v.(AttitudeSetpoint)
	if math.Abs(sp.YawSpMoveRate-l.manYawRateMax) > 1e-12 {
		t.Errorf("move rate %v, want %v", sp.YawSpMoveRate, l.manYawRateMax)
	}
	if math.Abs(l.manYawSp-l.manYawRateMax*0.02) > 1e-12 {
		t.Errorf("yaw reference %v, want %v", l.manYawSp, l.manYawRateMax*0.02)
	}

	// the reference stays wrapped to (-Pi, Pi]
	l.manYawSp = math.Pi - 0.01
	l.generateAttitudeSetpoint(1.0, false)
	if l.manYawSp > math.Pi || l.manYawSp <= -math.Pi {
		t.Errorf("yaw reference %v left the principal range", l.manYawSp)
	}

	// at idle throttle without airmode the reference holds
	l.manYawSp = 1
	l.manual = ManualControl{R: 1, Z: 0}
	l.generateAttitudeSetpoint(0.02, false)
	v, _ = spSub.Poll()
	sp = v.(AttitudeSetpoint)
	if sp.YawSpMoveRate != 0 || l.manYawSp != 1 {
		t.Errorf("reference moved at idle throttle: rate %v, yaw %v", sp.YawSpMoveRate, l.manYawSp)
	}
}

func TestLandingGearLatch(t *testing.T) {
	_, l := newTestLoop(t)

	// switch already up on the ground: gear stays down
	l.manual.GearSwitch = SwitchPosOn
	l.landDetected.Landed = true
	if got := l.landingGearState(); got != GearDown {
		t.Errorf("gear %v on the ground, want down", got)
	}

	// still down in the air until the switch was cycled
	l.landDetected.Landed = false
	if got := l.landingGearState(); got != GearDown {
		t.Errorf("gear %v before cycling the switch, want down", got)
	}

	// cycling down then up retracts
	l.manual.GearSwitch = SwitchPosOff
	if got := l.landingGearState(); got != GearDown {
		t.Errorf("gear %v with switch down, want down", got)
	}
	l.manual.GearSwitch = SwitchPosOn
	if got := l.landingGearState(); got != GearUp {
		t.Errorf("gear %v after cycling, want up", got)
	}

	// landing rearms the latch
	l.landDetected.Landed = true
	if got := l.landingGearState(); got != GearDown {
		t.Errorf("gear %v after landing, want down", got)
	}
}

func TestVTOLYawCorrectionNeutral(t *testing.T) {
	// with no heading error the correction must leave roll and pitch alone
	runOne := func(vtol bool) AttitudeSetpoint {
		b, l := newTestLoop(t)
		spSub := b.Subscribe(TopicAttitudeSetpoint)
		l.status.IsVTOL = vtol
		l.manual = ManualControl{Y: 0.5, Z: 0.5} // pure roll stick: no yaw offset
		l.generateAttitudeSetpoint(0.004, true)
		v, _ := spSub.Poll()
		return v.(AttitudeSetpoint)
	}

	plain := runOne(false)
	vtol := runOne(true)
	if math.Abs(plain.RollBody-vtol.RollBody) > 1e-9 || math.Abs(plain.PitchBody-vtol.PitchBody) > 1e-9 {
		t.Errorf("correction changed a zero-error setpoint: (%v, %v) vs (%v, %v)",
			plain.RollBody, plain.PitchBody, vtol.RollBody, vtol.PitchBody)
	}
}
