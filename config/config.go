// Package config holds the tuning parameters of the bicopter control task
// and the persistent store they are loaded from. Parameters are immutable
// within a control cycle; the store replaces them wholesale on reload and
// announces the change on the bus.
package config

import (
	"log"
	"os"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/andrelim435/bicopter/bus"
)

// UpdateTopic carries the configuration-change notification. The record is
// an empty struct; subscribers re-read the store when they see it.
const UpdateTopic = "parameter_update"

// VTOL airframe types, as reported in vehicle status.
const (
	VTOLTailsitter = 0
	VTOLTiltrotor  = 1
	VTOLStandard   = 2
)

// Params is the full tuning record. All angles are degrees and all angular
// rates degrees per second in the file; the control task converts to
// radians when it caches them.
type Params struct {
	// Manual attitude (stabilized) mode
	ManTiltMax    float64 `yaml:"man_tilt_max"`     // maximum commanded tilt, deg
	ManYawRateMax float64 `yaml:"man_yaw_rate_max"` // yaw stick full deflection rate, deg/s
	Airmode       int     `yaml:"airmode"`          // 2 enables yaw integration at zero throttle

	// Rattitude
	RattitudeThreshold float64 `yaml:"rattitude_threshold"` // stick deflection disabling attitude control

	// Acro mode
	AcroRollMax      float64 `yaml:"acro_roll_max"`       // deg/s
	AcroPitchMax     float64 `yaml:"acro_pitch_max"`      // deg/s
	AcroYawMax       float64 `yaml:"acro_yaw_max"`        // deg/s
	AcroExpo         float64 `yaml:"acro_expo"`           // roll/pitch exponential shaping
	AcroSuperExpo    float64 `yaml:"acro_superexpo"`      // roll/pitch super-exponential shaping
	AcroExpoYaw      float64 `yaml:"acro_expo_yaw"`       // yaw exponential shaping
	AcroSuperExpoYaw float64 `yaml:"acro_superexpo_yaw"`  // yaw super-exponential shaping

	// Throttle curve
	ThrottleCurve int     `yaml:"throttle_curve"` // 0: hover at mid-stick, 1: linear rescale
	ThrottleMin   float64 `yaml:"throttle_min"`
	ThrottleMax   float64 `yaml:"throttle_max"`
	ThrottleHover float64 `yaml:"throttle_hover"`

	// Rate loop
	DTermCutoff  float64 `yaml:"dterm_cutoff"`  // derivative low-pass cutoff, Hz
	MaxThrust    float64 `yaml:"max_thrust"`    // per-rotor normalization thrust, N
	ThrustFloor  float64 `yaml:"thrust_floor"`  // minimum per-rotor thrust after redistribution, N
	TiltCoupling float64 `yaml:"tilt_coupling"` // mechanical coupling of the tilt linkage
	GravityComp  float64 `yaml:"gravity_comp"`  // steady-state z bias added per rotor group, N

	// Board mounting
	BoardRotation [3]float64 `yaml:"board_rotation"` // coarse mount rotation, deg roll/pitch/yaw
	BoardOffset   [3]float64 `yaml:"board_offset"`   // fine-tune offset rotation, deg

	// Gain matrix: one 3x3 block per (rotor group, error source).
	// Row = output axis of the group's virtual force, column = error axis.
	AttGain0  [3][3]float64 `yaml:"att_gain_0"`
	AttGain1  [3][3]float64 `yaml:"att_gain_1"`
	RateGain0 [3][3]float64 `yaml:"rate_gain_0"`
	RateGain1 [3][3]float64 `yaml:"rate_gain_1"`

	// Safety / platform
	BatteryScaleEnable     bool `yaml:"battery_scale_enable"`
	CircuitBreakerRateCtrl bool `yaml:"circuit_breaker_rate_ctrl"` // suppresses actuator publication
	VTOLType               int  `yaml:"vtol_type"`
}

// Defaults returns a flight-ready parameter set.
func Defaults() Params {
	p := Params{
		ManTiltMax:    35,
		ManYawRateMax: 150,
		Airmode:       0,

		RattitudeThreshold: 0.8,

		AcroRollMax:      720,
		AcroPitchMax:     720,
		AcroYawMax:       540,
		AcroExpo:         0.69,
		AcroSuperExpo:    0.7,
		AcroExpoYaw:      0.69,
		AcroSuperExpoYaw: 0.7,

		ThrottleCurve: 0,
		ThrottleMin:   0.08,
		ThrottleMax:   1.0,
		ThrottleHover: 0.5,

		DTermCutoff:  30,
		MaxThrust:    8.0,
		ThrustFloor:  0.1,
		TiltCoupling: 0.75,
		GravityComp:  0.37,

		VTOLType: VTOLStandard,
	}
	for i := 0; i < 3; i++ {
		p.AttGain0[i][i] = 1
		p.AttGain1[i][i] = 1
		p.RateGain0[i][i] = 0.5
		p.RateGain1[i][i] = 0.5
	}
	return p
}

// Load reads a parameter file. Unset fields keep their defaults.
func Load(path string) (Params, error) {
	p := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, errors.Wrap(err, "config: read")
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return p, errors.Wrapf(err, "config: parse %s", path)
	}
	return p, nil
}

// Store is the persistent parameter store. It owns the current Params and
// publishes a change notification on each successful reload.
type Store struct {
	mu   sync.RWMutex
	path string
	cur  Params
	bus  *bus.Bus
}

// NewStore loads the file at path, or starts from defaults when path is
// empty. A broken file is fatal at startup but tolerated on reload.
func NewStore(path string, b *bus.Bus) (*Store, error) {
	s := &Store{path: path, cur: Defaults(), bus: b}
	if path != "" {
		p, err := Load(path)
		if err != nil {
			return nil, err
		}
		s.cur = p
	}
	return s, nil
}

// Current returns the active parameter set by value.
func (s *Store) Current() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Reload re-reads the parameter file and notifies subscribers. On error the
// previous parameters stay active.
func (s *Store) Reload() error {
	if s.path == "" {
		s.bus.Publish(UpdateTopic, struct{}{})
		return nil
	}
	p, err := Load(s.path)
	if err != nil {
		log.Printf("config: reload failed, keeping previous parameters: %v", err)
		return err
	}
	s.mu.Lock()
	s.cur = p
	s.mu.Unlock()
	s.bus.Publish(UpdateTopic, struct{}{})
	return nil
}
