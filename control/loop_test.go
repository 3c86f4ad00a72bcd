package control

import (
	"math"
	"testing"
	"time"

	"github.com/westphae/quaternion"

	"github.com/andrelim435/bicopter/bus"
	"github.com/andrelim435/bicopter/config"
)

func newTestLoop(t *testing.T) (*bus.Bus, *Loop) {
	t.Helper()
	b := bus.New()
	store, err := config.NewStore("", b)
	if err != nil {
		t.Fatal(err)
	}
	return b, New(b, store)
}

// waitForRecord drives the loop with gyro samples until the subscription
// yields a record satisfying ok, or the deadline passes.
func waitForRecord(t *testing.T, sub *bus.Subscription, feed func(), ok func(interface{}) bool) interface{} {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var last interface{}
	for time.Now().Before(deadline) {
		feed()
		time.Sleep(2 * time.Millisecond)
		if v, fresh := sub.Poll(); fresh {
			last = v
			if ok(v) {
				return v
			}
		}
	}
	t.Fatalf("no matching record before deadline, last: %+v", last)
	return nil
}

func TestLoopAcroMapsSticks(t *testing.T) {
	b, l := newTestLoop(t)
	sub := b.Subscribe(TopicRatesSetpoint)

	go l.Run()
	defer l.Stop()
	time.Sleep(20 * time.Millisecond)

	b.Publish(TopicControlMode, ControlMode{Armed: true, RatesEnabled: true, ManualEnabled: true})
	b.Publish(TopicVehicleStatus, VehicleStatus{IsRotaryWing: true})

	wantYaw := radians(540) // full stick through the shaping curve hits the limit
	v := waitForRecord(t, sub,
		func() {
			b.Publish(TopicManualControl, ManualControl{R: 1, Z: 0.7})
			b.Publish(GyroTopic(0), GyroSample{Timestamp: time.Now()})
		},
		func(v interface{}) bool {
			rsp := v.(RatesSetpoint)
			return math.Abs(rsp.Rates.Z-wantYaw) < 1e-9
		})

	rsp := v.(RatesSetpoint)
	if math.Abs(rsp.Rates.X) > 1e-9 || math.Abs(rsp.Rates.Y) > 1e-9 {
		t.Errorf("centered roll/pitch sticks gave rates %+v", rsp.Rates)
	}
	if math.Abs(rsp.ThrustBody.Z+0.7) > 1e-9 {
		t.Errorf("thrust = %v, want -0.7", rsp.ThrustBody.Z)
	}
}

func TestLoopAttitudeHover(t *testing.T) {
	b, l := newTestLoop(t)
	sub := b.Subscribe(TopicActuatorControls)

	go l.Run()
	defer l.Stop()
	time.Sleep(20 * time.Millisecond)

	b.Publish(TopicControlMode, ControlMode{
		Armed: true, RatesEnabled: true, AttitudeEnabled: true, ManualEnabled: true,
	})
	b.Publish(TopicVehicleStatus, VehicleStatus{IsRotaryWing: true})

	// level vehicle, zero rates, hover throttle: the steady state is pure
	// gravity bias on each rotor group and the hover thrust setpoint
	p := config.Defaults()
	wantGroupThrust := p.GravityComp / p.MaxThrust
	v := waitForRecord(t, sub,
		func() {
			b.Publish(TopicManualControl, ManualControl{Z: 0.5})
			b.Publish(TopicAttitude, Attitude{Timestamp: time.Now(), Q: quaternion.Quaternion{W: 1}})
			b.Publish(GyroTopic(0), GyroSample{Timestamp: time.Now()})
		},
		func(v interface{}) bool {
			out := v.(ActuatorControls)
			return math.Abs(out.Control[2]-wantGroupThrust) < 1e-9 &&
				math.Abs(out.Control[3]-p.ThrottleHover) < 1e-9
		})

	out := v.(ActuatorControls)
	for _, ch := range []int{0, 1, 5, 6} {
		if math.Abs(out.Control[ch]) > 1e-9 {
			t.Errorf("tilt channel %d = %v in level hover", ch, out.Control[ch])
		}
	}
	if math.Abs(out.Control[7]-wantGroupThrust) > 1e-9 {
		t.Errorf("group 1 thrust = %v, want %v", out.Control[7], wantGroupThrust)
	}
}

func TestLoopTermination(t *testing.T) {
	b, l := newTestLoop(t)
	sub := b.Subscribe(TopicActuatorControls)

	go l.Run()
	defer l.Stop()
	time.Sleep(20 * time.Millisecond)

	b.Publish(TopicControlMode, ControlMode{
		Armed: true, RatesEnabled: true, ManualEnabled: true, TerminationEnabled: true,
	})
	b.Publish(TopicVehicleStatus, VehicleStatus{IsRotaryWing: true})

	waitForRecord(t, sub,
		func() {
			b.Publish(TopicManualControl, ManualControl{R: 1, Z: 0.9})
			b.Publish(GyroTopic(0), GyroSample{Timestamp: time.Now()})
		},
		func(v interface{}) bool {
			return v.(ActuatorControls).Control == [8]float64{}
		})
}

func TestLoopBadInstrumentSelection(t *testing.T) {
	b, l := newTestLoop(t)
	sub := b.Subscribe(TopicRatesSetpoint)

	go l.Run()
	defer l.Stop()
	time.Sleep(20 * time.Millisecond)

	b.Publish(TopicControlMode, ControlMode{Armed: true, RatesEnabled: true, ManualEnabled: true})
	b.Publish(TopicVehicleStatus, VehicleStatus{IsRotaryWing: true})

	// an out-of-range selection must keep the previous instrument, never
	// kill the loop
	for _, sel := range []int{-1, MaxGyroCount + 1} {
		b.Publish(TopicSensorCorrection, SensorCorrection{SelectedInstrument: sel})
		waitForRecord(t, sub,
			func() {
				b.Publish(TopicManualControl, ManualControl{R: 1, Z: 0.5})
				b.Publish(GyroTopic(0), GyroSample{Timestamp: time.Now()})
			},
			func(v interface{}) bool {
				return math.Abs(v.(RatesSetpoint).Rates.Z-radians(540)) < 1e-9
			})
	}
}

func TestClampDt(t *testing.T) {
	now := time.Now()
	cases := []struct {
		delta time.Duration
		want  float64
	}{
		{0, dtMin},                     // identical timestamps
		{50 * time.Microsecond, dtMin}, // faster than any gyro delivers
		{4 * time.Millisecond, 0.004},  // nominal 250 Hz spacing
		{5 * time.Second, dtMax},       // stalled feed
	}
	for _, c := range cases {
		if got := clampDt(now, now.Add(-c.delta)); math.Abs(got-c.want) > 1e-12 {
			t.Errorf("delta %v: dt = %v, want %v", c.delta, got, c.want)
		}
	}
}

func TestLoopStop(t *testing.T) {
	b, l := newTestLoop(t)
	sub := b.Subscribe(TopicActuatorControls)

	go l.Run()
	time.Sleep(20 * time.Millisecond)
	l.Stop()

	sub.Poll() // drain anything published while running
	b.Publish(TopicControlMode, ControlMode{Armed: true, RatesEnabled: true})
	b.Publish(GyroTopic(0), GyroSample{Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)
	if _, ok := sub.Poll(); ok {
		t.Error("stopped loop still publishing")
	}
}
