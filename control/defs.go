// Package control implements the attitude and rate control core of the
// bicopter flight controller. It turns attitude or rate setpoints and live
// gyro data into per-actuator tilt and thrust commands at sensor-update
// rate: sensor correction, setpoint synthesis from sticks, a quaternion
// attitude-error law, a rate-error law with a fixed LQR gain block, and the
// virtual-force-to-actuator allocation for the two rotor groups.
//
// Body frame is front-right-down; rotations follow the aerospace ZYX
// (roll, pitch, yaw) sequence. All internal angles are radians.
package control

import (
	"time"

	"github.com/golang/geo/r3"
	"github.com/westphae/quaternion"
)

// Bus topic names. Each is a best-effort, last-value-wins stream; gyro
// topics are multi-instance and addressed as TopicSensorGyro + ".N".
const (
	TopicSensorGyro       = "sensor_gyro"
	TopicAttitude         = "vehicle_attitude"
	TopicAttitudeSetpoint = "vehicle_attitude_setpoint"
	TopicRatesSetpoint    = "vehicle_rates_setpoint"
	TopicManualControl    = "manual_control_setpoint"
	TopicControlMode      = "vehicle_control_mode"
	TopicVehicleStatus    = "vehicle_status"
	TopicMotorLimits      = "multirotor_motor_limits"
	TopicBattery          = "battery_status"
	TopicSensorCorrection = "sensor_correction"
	TopicSensorBias       = "sensor_bias"
	TopicLandDetected     = "vehicle_land_detected"
	TopicLandingGear      = "landing_gear"
	TopicPartialControls  = "partial_controls"
	TopicActuatorControls = "actuator_controls_0"
	TopicRateCtrlStatus   = "rate_ctrl_status"
)

const (
	// MaxGyroCount is the number of gyro instruments the task multiplexes.
	MaxGyroCount = 3

	// dt fed into the control laws is clamped to this window regardless of
	// the measured wall-clock delta.
	dtMin = 0.0002 // s
	dtMax = 0.02   // s

	// Bounded wait on the selected gyro stream, to permit exit checks.
	gyroWaitTimeout = 100 * time.Millisecond

	// Backoff after a transient poll fault before resuming the loop.
	pollErrorBackoff = 100 * time.Millisecond
)

// Landing gear command values.
const (
	GearUp   = 1.0
	GearDown = -1.0
)

// SwitchPos is a discrete switch position on the manual controller.
type SwitchPos int

const (
	SwitchPosNone SwitchPos = iota
	SwitchPosOn
	SwitchPosMiddle
	SwitchPosOff
)

// GyroSample is one angular-rate measurement from one instrument.
type GyroSample struct {
	Timestamp  time.Time
	Rate       r3.Vector // rad/s, sensor frame
	Instrument int
}

// Attitude is the estimated vehicle orientation. Consumers must
// renormalize Q before use; storage may carry small numerical drift. A
// change in QuatResetCounter between two observations signals a
// discontinuous heading correction carried in DeltaQReset.
type Attitude struct {
	Timestamp        time.Time
	Q                quaternion.Quaternion
	QuatResetCounter uint8
	DeltaQReset      quaternion.Quaternion
}

// AttitudeSetpoint is a target orientation plus thrust demand. Physical
// thrust is the negative of the body z component of ThrustBody.
type AttitudeSetpoint struct {
	Timestamp     time.Time
	Q             quaternion.Quaternion
	QValid        bool
	RollBody      float64 // rad
	PitchBody     float64 // rad
	YawBody       float64 // rad
	YawSpMoveRate float64 // rad/s
	ThrustBody    r3.Vector
}

// RatesSetpoint is the alternate control input when the attitude law is
// bypassed.
type RatesSetpoint struct {
	Timestamp  time.Time
	Rates      r3.Vector // rad/s
	ThrustBody r3.Vector
}

// ManualControl is normalized pilot stick input: X forward (pitch), Y
// right (roll), R yaw, each in [-1, 1]; Z throttle in [0, 1].
type ManualControl struct {
	Timestamp  time.Time
	X, Y, R, Z float64
	GearSwitch SwitchPos
}

// ControlMode is the set of flags describing which control loops are
// active.
type ControlMode struct {
	Armed              bool
	RatesEnabled       bool
	AttitudeEnabled    bool
	RattitudeEnabled   bool
	ManualEnabled      bool
	AltitudeEnabled    bool
	VelocityEnabled    bool
	PositionEnabled    bool
	TerminationEnabled bool
}

// VehicleStatus carries the airframe flags gating mode arbitration.
type VehicleStatus struct {
	IsRotaryWing     bool
	IsVTOL           bool
	InTransitionMode bool
}

// SensorCorrection is the per-instrument calibration table plus the index
// of the instrument the sensor hub currently prefers.
type SensorCorrection struct {
	GyroOffset         [MaxGyroCount]r3.Vector
	GyroScale          [MaxGyroCount]r3.Vector
	SelectedInstrument int
}

// SensorBias is the slowly varying in-run gyro bias estimate.
type SensorBias struct {
	GyroBias r3.Vector // rad/s, body frame
}

// BatteryStatus carries the compensation scale applied to actuator effort.
type BatteryStatus struct {
	Scale float64
}

// MotorLimits reports output saturation from the mixer.
type MotorLimits struct {
	Saturation uint16
}

// LandDetected reports the land detector's state.
type LandDetected struct {
	Landed bool
}

// LandingGear is the published gear command, GearUp or GearDown.
type LandingGear struct {
	Timestamp time.Time
	State     float64
}

// PartialControls is the externally computed feed-forward contribution, one
// 3-vector per rotor group packed [x0 y0 z0 x1 y1 z1].
type PartialControls struct {
	Control [6]float64
}

// ActuatorControls is the terminal artifact of a control cycle: eight
// normalized channels. Channels 0-2 are rotor group 0 (roll tilt, pitch
// tilt, thrust), channels 5-7 are rotor group 1, channel 3 is the shared
// thrust-setpoint slot used by arming/safety logic.
type ActuatorControls struct {
	Timestamp       time.Time
	TimestampSample time.Time // gyro sample that produced this command
	Control         [8]float64
}

// RateCtrlStatus is the diagnostic record published after each rate-control
// pass: the filtered rate and the rate integral per axis. The integral path
// is currently disabled but its slot is kept for diagnostics.
type RateCtrlStatus struct {
	Timestamp time.Time
	Rates     r3.Vector
	RatesInt  r3.Vector
}
