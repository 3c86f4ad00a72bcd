package telemetry

import (
	"encoding/json"
	"log"
	"math"
	"time"

	"github.com/andrelim435/bicopter/bus"
	"github.com/andrelim435/bicopter/control"
)

const deg = math.Pi / 180

// Frame is one telemetry sample sent to the clients, assembled from the
// latest record on each of the control loop's output topics.
type Frame struct {
	T float64 // timestamp of the frame, s

	Roll, Pitch, Heading float64 // estimated attitude, deg

	RateX, RateY, RateZ       float64 // filtered body rates, rad/s
	RateSpX, RateSpY, RateSpZ float64 // rate setpoint, rad/s

	Thrust   float64    // commanded thrust setpoint
	Channels [8]float64 // actuator channels as published
}

// Listener follows the control loop's output topics and forwards one frame
// per actuator record to the room.
type Listener struct {
	bus  *bus.Bus
	room *Room
	stop chan struct{}
	done chan struct{}
}

func NewListener(b *bus.Bus, room *Room) *Listener {
	return &Listener{
		bus:  b,
		room: room,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Run streams frames until Stop is called. The actuator topic paces the
// stream; everything else is sampled at whatever freshness it has.
func (tl *Listener) Run() {
	defer close(tl.done)

	subAct := tl.bus.Subscribe(control.TopicActuatorControls)
	subStatus := tl.bus.Subscribe(control.TopicRateCtrlStatus)
	subAtt := tl.bus.Subscribe(control.TopicAttitude)
	subSp := tl.bus.Subscribe(control.TopicRatesSetpoint)
	defer func() {
		subAct.Unsubscribe()
		subStatus.Unsubscribe()
		subAtt.Unsubscribe()
		subSp.Unsubscribe()
	}()

	var frame Frame
	for {
		select {
		case <-tl.stop:
			return
		default:
		}

		if !subAct.Wait(250 * time.Millisecond) {
			continue
		}
		v, ok := subAct.Poll()
		if !ok {
			continue
		}
		frame.Channels = v.(control.ActuatorControls).Control
		frame.T = float64(time.Now().UnixNano()/1000) / 1e6

		if v, ok := subAtt.Poll(); ok {
			r, p, y := control.EulerAngles(v.(control.Attitude).Q)
			frame.Roll, frame.Pitch, frame.Heading = r/deg, p/deg, y/deg
		}
		if v, ok := subStatus.Poll(); ok {
			st := v.(control.RateCtrlStatus)
			frame.RateX, frame.RateY, frame.RateZ = st.Rates.X, st.Rates.Y, st.Rates.Z
		}
		if v, ok := subSp.Poll(); ok {
			sp := v.(control.RatesSetpoint)
			frame.RateSpX, frame.RateSpY, frame.RateSpZ = sp.Rates.X, sp.Rates.Y, sp.Rates.Z
			frame.Thrust = -sp.ThrustBody.Z
		}

		msg, err := json.Marshal(frame)
		if err != nil {
			log.Println("telemetry: marshal:", err)
			continue
		}
		select {
		case tl.room.forward <- msg:
		case <-tl.stop:
			return
		}
	}
}

// Stop asks the listener to exit and waits for it to finish.
func (tl *Listener) Stop() {
	close(tl.stop)
	<-tl.done
}
