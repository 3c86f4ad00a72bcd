package control

import (
	"log"
	"strconv"
	"time"

	"github.com/golang/geo/r3"
	matrix "github.com/skelterjohn/go.matrix"

	"github.com/andrelim435/bicopter/bus"
	"github.com/andrelim435/bicopter/config"
)

const (
	// initialUpdateRate seeds the loop-rate estimate until it is measured.
	initialUpdateRate = 250 // Hz

	// armedWarmup is how long after task start the loop rate keeps being
	// re-estimated even while armed.
	armedWarmup = 3300 * time.Millisecond
)

// Loop is the control-loop context: it owns every piece of per-cycle state
// and is driven by a single goroutine. All inter-component state lives here
// for the duration of a cycle; the only concurrency boundary is the bus.
type Loop struct {
	bus   *bus.Bus
	store *config.Store

	// configuration cache, replaced wholesale on parameter update
	p             config.Params
	gains         GainSet
	boardRot      *matrix.DenseMatrix
	acroRateMax   r3.Vector
	manTiltMax    float64
	manYawRateMax float64
	isTailsitter  bool

	actuatorsCircuitBreaker bool

	lpFilter         LowPassFilter
	loopUpdateRateHz float64

	// subscriptions
	subGyro        [MaxGyroCount]*bus.Subscription
	subAtt         *bus.Subscription
	subAttSp       *bus.Subscription
	subRatesSp     *bus.Subscription
	subManual      *bus.Subscription
	subMode        *bus.Subscription
	subStatus      *bus.Subscription
	subMotorLimits *bus.Subscription
	subBattery     *bus.Subscription
	subCorrection  *bus.Subscription
	subBias        *bus.Subscription
	subLand        *bus.Subscription
	subGear        *bus.Subscription
	subPartial     *bus.Subscription
	subParams      *bus.Subscription

	// most recent copy of each input topic
	att              Attitude
	attSp            AttitudeSetpoint
	manual           ManualControl
	mode             ControlMode
	status           VehicleStatus
	motorLimits      MotorLimits
	battery          BatteryStatus
	sensorCorrection SensorCorrection
	sensorBias       SensorBias
	landDetected     LandDetected
	landingGear      LandingGear
	partialControls  PartialControls

	selectedGyro int
	gyroCount    int

	// control state, reinitialized to safe defaults on startup
	ratesPrev            r3.Vector
	ratesPrevFiltered    r3.Vector
	ratesSp              r3.Vector
	ratesInt             r3.Vector
	thrustSp             float64
	pControlAtt          [2]r3.Vector
	virtualControl       [2]r3.Vector
	attControl           [2]r3.Vector
	attControlThrust     float64
	manYawSp             float64
	gearStateInitialized bool

	stop chan struct{}
	done chan struct{}
}

// New builds a control loop on the given bus and parameter store. All
// working state starts at safe defaults: zero setpoints, zero integrators,
// unit quaternions, unity sensor scale.
func New(b *bus.Bus, store *config.Store) *Loop {
	l := &Loop{
		bus:              b,
		store:            store,
		loopUpdateRateHz: initialUpdateRate,
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}

	l.att.Q.W = 1
	l.attSp.Q.W = 1
	l.status.IsRotaryWing = true
	for i := 0; i < MaxGyroCount; i++ {
		l.sensorCorrection.GyroScale[i] = r3.Vector{X: 1, Y: 1, Z: 1}
	}

	l.parametersUpdated()
	return l
}

// parametersUpdated re-caches everything derived from the parameter set.
func (l *Loop) parametersUpdated() {
	l.p = l.store.Current()
	l.gains = newGainSet(l.p)
	l.boardRot = boardRotation(l.p)

	if diff := l.lpFilter.Cutoff() - l.p.DTermCutoff; diff > 0.01 || diff < -0.01 {
		l.lpFilter.SetCutoff(l.loopUpdateRateHz, l.p.DTermCutoff)
		l.lpFilter.Reset(l.ratesPrev)
	}

	l.acroRateMax = r3.Vector{
		X: radians(l.p.AcroRollMax),
		Y: radians(l.p.AcroPitchMax),
		Z: radians(l.p.AcroYawMax),
	}
	l.manTiltMax = radians(l.p.ManTiltMax)
	l.manYawRateMax = radians(l.p.ManYawRateMax)
	l.actuatorsCircuitBreaker = l.p.CircuitBreakerRateCtrl
	l.isTailsitter = l.p.VTOLType == config.VTOLTailsitter
}

func (l *Loop) subscribe() {
	for i := 0; i < MaxGyroCount; i++ {
		l.subGyro[i] = l.bus.Subscribe(GyroTopic(i))
	}
	l.subAtt = l.bus.Subscribe(TopicAttitude)
	l.subAttSp = l.bus.Subscribe(TopicAttitudeSetpoint)
	l.subRatesSp = l.bus.Subscribe(TopicRatesSetpoint)
	l.subManual = l.bus.Subscribe(TopicManualControl)
	l.subMode = l.bus.Subscribe(TopicControlMode)
	l.subStatus = l.bus.Subscribe(TopicVehicleStatus)
	l.subMotorLimits = l.bus.Subscribe(TopicMotorLimits)
	l.subBattery = l.bus.Subscribe(TopicBattery)
	l.subCorrection = l.bus.Subscribe(TopicSensorCorrection)
	l.subBias = l.bus.Subscribe(TopicSensorBias)
	l.subLand = l.bus.Subscribe(TopicLandDetected)
	l.subGear = l.bus.Subscribe(TopicLandingGear)
	l.subPartial = l.bus.Subscribe(TopicPartialControls)
	l.subParams = l.bus.Subscribe(config.UpdateTopic)

	// count the gyro instruments that are actually publishing
	l.gyroCount = 1
	for i := 1; i < MaxGyroCount; i++ {
		if _, ok := l.subGyro[i].Get(); ok {
			l.gyroCount = i + 1
		}
	}
}

func (l *Loop) unsubscribe() {
	for i := 0; i < MaxGyroCount; i++ {
		l.subGyro[i].Unsubscribe()
	}
	for _, s := range []*bus.Subscription{
		l.subAtt, l.subAttSp, l.subRatesSp, l.subManual, l.subMode,
		l.subStatus, l.subMotorLimits, l.subBattery, l.subCorrection,
		l.subBias, l.subLand, l.subGear, l.subPartial, l.subParams,
	} {
		s.Unsubscribe()
	}
}

// clampDt bounds the wall-clock delta fed into the control laws, guarding
// against scheduling jitter and stalls.
func clampDt(now, lastRun time.Time) float64 {
	return constrain(now.Sub(lastRun).Seconds(), dtMin, dtMax)
}

// GyroTopic returns the bus topic name for one gyro instance.
func GyroTopic(instance int) string {
	return TopicSensorGyro + "." + strconv.Itoa(instance)
}

// Run drives the control pipeline off gyro arrival until Stop is called.
// On exit all inputs are unsubscribed and nothing further is published.
func (l *Loop) Run() {
	defer close(l.done)

	l.subscribe()
	defer l.unsubscribe()

	taskStart := time.Now()
	lastRun := taskStart
	dtAccumulator := 0.0
	loopCounter := 0

	resetYawSp := true
	attitudeDt := 0.0

	for {
		select {
		case <-l.stop:
			return
		default:
		}

		// re-evaluate the gyro selection before blocking on it
		l.sensorCorrectionPoll()

		// wait for data from the selected gyro; the timeout exists only so
		// the exit check above runs periodically
		if !l.subGyro[l.selectedGyro].Wait(gyroWaitTimeout) {
			continue
		}
		v, ok := l.subGyro[l.selectedGyro].Poll()
		if !ok {
			continue
		}
		sample, ok := v.(GyroSample)
		if !ok {
			// undesirable but not fatal; back off and resume
			log.Printf("control: bad record on %s", GyroTopic(l.selectedGyro))
			time.Sleep(pollErrorBackoff)
			continue
		}

		now := time.Now()
		dt := clampDt(now, lastRun)
		lastRun = now

		// the rate controller runs immediately on every gyro update
		if l.mode.RatesEnabled {
			l.controlRates(sample)
			l.publishActuatorControls(sample)
			l.publishRateCtrlStatus()
		}

		// non-blocking repoll of everything else
		l.controlModePoll()
		l.vehicleStatusPoll()
		l.motorLimitsPoll()
		l.batteryPoll()
		l.sensorBiasPoll()
		l.landDetectedPoll()
		l.landingGearPoll()
		l.partialControlsPoll()
		manualUpdated := l.manualPoll()
		attitudeUpdated := l.attitudePoll()
		attitudeDt += dt

		cm := rattitudeOverride(l.mode, l.manual, l.p.RattitudeThreshold)

		attitudeSetpointGenerated := false

		switch decideMode(cm, l.status, l.isTailsitter) {
		case ModeAttitudeControl:
			if attitudeUpdated {
				// synthesize the setpoint from sticks only in a pure
				// manual/stabilized mode
				if cm.ManualEnabled && !cm.AltitudeEnabled &&
					!cm.VelocityEnabled && !cm.PositionEnabled {
					l.generateAttitudeSetpoint(attitudeDt, resetYawSp)
					attitudeSetpointGenerated = true
				}
				l.controlAttitude()
				l.publishRatesSetpoint()
			}

		case ModeManualAcro:
			if manualUpdated {
				l.ratesSp = r3.Vector{
					X: superexpo(l.manual.Y, l.p.AcroExpo, l.p.AcroSuperExpo) * l.acroRateMax.X,
					Y: superexpo(-l.manual.X, l.p.AcroExpo, l.p.AcroSuperExpo) * l.acroRateMax.Y,
					Z: superexpo(l.manual.R, l.p.AcroExpoYaw, l.p.AcroSuperExpoYaw) * l.acroRateMax.Z,
				}
				l.thrustSp = l.manual.Z
				l.publishRatesSetpoint()
			}

		case ModeExternalRate:
			if v, ok := l.subRatesSp.Poll(); ok {
				rsp := v.(RatesSetpoint)
				l.ratesSp = rsp.Rates
				l.thrustSp = -rsp.ThrustBody.Z
			}
		}

		// termination override: zero everything and publish immediately
		if cm.TerminationEnabled && !l.status.IsVTOL {
			l.ratesSp = r3.Vector{}
			l.ratesInt = r3.Vector{}
			l.thrustSp = 0
			l.attControl[0] = r3.Vector{}
			l.attControl[1] = r3.Vector{}
			l.attControlThrust = 0
			l.virtualControl[0] = r3.Vector{}
			l.virtualControl[1] = r3.Vector{}
			l.publishActuatorControls(sample)
		}

		if attitudeUpdated {
			// reset the yaw reference during transitions and on the ground
			resetYawSp = (!attitudeSetpointGenerated && !cm.RattitudeEnabled) ||
				l.landDetected.Landed ||
				(l.status.IsVTOL && l.status.InTransitionMode)

			attitudeDt = 0
		}

		// estimate the achieved loop rate while disarmed or during the
		// warm-up window; retuning the filter is expensive
		if !l.mode.Armed || now.Sub(taskStart) < armedWarmup {
			dtAccumulator += dt
			loopCounter++

			if dtAccumulator > 1 {
				rate := float64(loopCounter) / dtAccumulator
				l.loopUpdateRateHz = l.loopUpdateRateHz*0.5 + rate*0.5
				dtAccumulator = 0
				loopCounter = 0
				l.lpFilter.SetCutoff(l.loopUpdateRateHz, l.p.DTermCutoff)
				l.lpFilter.Reset(l.ratesPrev)
			}
		}

		l.parameterUpdatePoll()
	}
}

// Stop asks the loop to exit and waits for it to finish.
func (l *Loop) Stop() {
	close(l.stop)
	<-l.done
}

// --- input topic polls, all non-blocking -------------------------------

func (l *Loop) sensorCorrectionPoll() {
	if v, ok := l.subCorrection.Poll(); ok {
		l.sensorCorrection = v.(SensorCorrection)
	}
	// update the latest gyro selection; an out-of-range index keeps the
	// previous selection
	if sel := l.sensorCorrection.SelectedInstrument; sel >= 0 && sel < l.gyroCount {
		l.selectedGyro = sel
	}
}

func (l *Loop) controlModePoll() {
	if v, ok := l.subMode.Poll(); ok {
		l.mode = v.(ControlMode)
	}
}

func (l *Loop) vehicleStatusPoll() {
	if v, ok := l.subStatus.Poll(); ok {
		l.status = v.(VehicleStatus)
	}
}

func (l *Loop) motorLimitsPoll() {
	if v, ok := l.subMotorLimits.Poll(); ok {
		l.motorLimits = v.(MotorLimits)
	}
}

func (l *Loop) batteryPoll() {
	if v, ok := l.subBattery.Poll(); ok {
		l.battery = v.(BatteryStatus)
	}
}

func (l *Loop) sensorBiasPoll() {
	if v, ok := l.subBias.Poll(); ok {
		l.sensorBias = v.(SensorBias)
	}
}

func (l *Loop) landDetectedPoll() {
	if v, ok := l.subLand.Poll(); ok {
		l.landDetected = v.(LandDetected)
	}
}

func (l *Loop) landingGearPoll() {
	if v, ok := l.subGear.Poll(); ok {
		l.landingGear = v.(LandingGear)
	}
}

func (l *Loop) partialControlsPoll() {
	if v, ok := l.subPartial.Poll(); ok {
		l.partialControls = v.(PartialControls)
	}
}

func (l *Loop) manualPoll() bool {
	if v, ok := l.subManual.Poll(); ok {
		l.manual = v.(ManualControl)
		return true
	}
	return false
}

func (l *Loop) attitudePoll() bool {
	v, ok := l.subAtt.Poll()
	if !ok {
		return false
	}
	att := v.(Attitude)

	// a reset-counter change is a discontinuous heading correction; fold
	// the heading change into the manual yaw reference
	if att.QuatResetCounter != l.att.QuatResetCounter {
		l.manYawSp = wrapPi(l.manYawSp + yawFromQuaternion(normalized(att.DeltaQReset)))
	}
	l.att = att
	return true
}

func (l *Loop) parameterUpdatePoll() {
	if _, ok := l.subParams.Poll(); ok {
		l.parametersUpdated()
	}
}
