// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/relabs-tech/quad_controller/internal/fault"
	"github.com/relabs-tech/quad_controller/internal/mathx"
)

// AngleLimit bounds the estimated roll and pitch in degrees.
const AngleLimit = 90.0

// State is the estimator output consumed by the mixer and telemetry.
type State struct {
	RollRate  float64 `json:"roll_rate"`  // deg/s
	PitchRate float64 `json:"pitch_rate"` // deg/s
	YawRate   float64 `json:"yaw_rate"`   // deg/s
	Roll      float64 `json:"roll"`       // deg
	Pitch     float64 `json:"pitch"`      // deg

	Altitude      float64 `json:"altitude_m"`
	VerticalSpeed float64 `json:"vertical_speed_ms"`
	HasAltitude   bool    `json:"has_altitude"`

	Stale      bool `json:"stale"`
	StaleTicks int  `json:"stale_ticks"`
}

// Config tunes the complementary filter and the sample plausibility checks.
type Config struct {
	GyroWeight    float64 // weight of the integrated gyro angle, (0,1)
	GyroLimit     float64 // deg/s; larger rates are rejected
	AccelMinG     float64 // accepted accel norm band, in g
	AccelMaxG     float64
	MaxStaleTicks int // consecutive held ticks tolerated before a SensorFault

	BaroAlpha float64 // altitude correction gain, (0,1]
	BaroBeta  float64 // vertical speed correction gain, [0,1)

	Policy mathx.Policy
}

// DefaultConfig returns the filter constants used on the bench frame.
func DefaultConfig() Config {
	return Config{
		GyroWeight:    0.98,
		GyroLimit:     2000,
		AccelMinG:     0.2,
		AccelMaxG:     4,
		MaxStaleTicks: 10,
		BaroAlpha:     0.1,
		BaroBeta:      0.005,
	}
}

func (c Config) validate() error {
	switch {
	case !(c.GyroWeight > 0 && c.GyroWeight < 1):
		return fmt.Errorf("gyro weight must be in (0,1), got %g", c.GyroWeight)
	case c.GyroLimit <= 0:
		return fmt.Errorf("gyro limit must be > 0, got %g", c.GyroLimit)
	case c.AccelMinG < 0 || c.AccelMaxG <= c.AccelMinG:
		return fmt.Errorf("accel band [%g, %g] is empty", c.AccelMinG, c.AccelMaxG)
	case c.MaxStaleTicks < 0:
		return fmt.Errorf("max stale ticks must be >= 0, got %d", c.MaxStaleTicks)
	case !(c.BaroAlpha > 0 && c.BaroAlpha <= 1) || c.BaroBeta < 0 || c.BaroBeta >= 1:
		return fmt.Errorf("baro gains alpha=%g beta=%g out of range", c.BaroAlpha, c.BaroBeta)
	}
	return nil
}

// Estimator fuses gyro and accelerometer samples into an attitude with a
// complementary filter. Implausible samples are rejected and the last valid
// state is held and marked stale.
type Estimator struct {
	cfg   Config
	state State

	baroReady bool
	rejected  string
}

// NewEstimator validates cfg and returns a level estimator.
func NewEstimator(cfg Config) (*Estimator, error) {
	if err := cfg.validate(); err != nil {
		return nil, fault.Wrap(fault.ConfigurationError, "estimator", err)
	}
	return &Estimator{cfg: cfg}, nil
}

// State returns the last emitted state.
func (e *Estimator) State() State { return e.state }

// SetAttitude overwrites the angle estimate, e.g. to seed it from a known pose.
func (e *Estimator) SetAttitude(roll, pitch float64) {
	e.state.Roll = mathx.Clamp(roll, -AngleLimit, AngleLimit)
	e.state.Pitch = mathx.Clamp(pitch, -AngleLimit, AngleLimit)
}

// Update advances the filter by dt with a gyro sample in deg/s and an accel
// sample in g. dt must be positive.
func (e *Estimator) Update(gyro, accel mgl64.Vec3, dt time.Duration) (State, error) {
	if dt <= 0 {
		return e.state, fault.New(fault.InvalidParams, "estimator", fmt.Sprintf("dt must be > 0, got %v", dt))
	}
	if reason := e.implausible(gyro, accel); reason != "" {
		e.rejected = reason
		return e.Hold()
	}
	e.rejected = ""

	secs := dt.Seconds()
	tilt := PoseFromAccel(accel)
	w := e.cfg.GyroWeight
	p := e.cfg.Policy

	roll := w*(e.state.Roll+gyro.X()*secs) + (1-w)*tilt.Roll
	pitch := w*(e.state.Pitch+gyro.Y()*secs) + (1-w)*tilt.Pitch

	e.state.Roll = p.Apply(mathx.Clamp(roll, -AngleLimit, AngleLimit))
	e.state.Pitch = p.Apply(mathx.Clamp(pitch, -AngleLimit, AngleLimit))
	e.state.RollRate = p.Apply(gyro.X())
	e.state.PitchRate = p.Apply(gyro.Y())
	e.state.YawRate = p.Apply(gyro.Z())
	e.state.Stale = false
	e.state.StaleTicks = 0
	return e.state, nil
}

// Hold keeps the last valid state for a tick without a usable sample. Once more
// than MaxStaleTicks consecutive ticks were held it returns a SensorFault.
func (e *Estimator) Hold() (State, error) {
	e.state.Stale = true
	e.state.StaleTicks++
	if e.state.StaleTicks > e.cfg.MaxStaleTicks {
		return e.state, fault.New(fault.SensorFault, "estimator",
			fmt.Sprintf("no plausible sample for %d ticks", e.state.StaleTicks))
	}
	return e.state, nil
}

// Rejection describes why the last sample was discarded, or "" if it was used.
func (e *Estimator) Rejection() string { return e.rejected }

func (e *Estimator) implausible(gyro, accel mgl64.Vec3) string {
	if !mathx.Finite(gyro[0], gyro[1], gyro[2], accel[0], accel[1], accel[2]) {
		return "non-finite sample"
	}
	for _, r := range gyro {
		if math.Abs(r) > e.cfg.GyroLimit {
			return "gyro rate beyond limit"
		}
	}
	n := accel.Len()
	if n < e.cfg.AccelMinG || n > e.cfg.AccelMaxG {
		return "accel norm out of band"
	}
	return ""
}

// UpdateBaro fuses a barometric altitude in metres with an alpha-beta filter,
// producing a smoothed altitude and a vertical speed estimate.
func (e *Estimator) UpdateBaro(altitude float64, dt time.Duration) (State, error) {
	if dt <= 0 {
		return e.state, fault.New(fault.InvalidParams, "estimator", fmt.Sprintf("baro dt must be > 0, got %v", dt))
	}
	if !mathx.Finite(altitude) {
		return e.state, fault.New(fault.SensorFault, "estimator", "non-finite altitude")
	}
	if !e.baroReady {
		e.state.Altitude = altitude
		e.state.VerticalSpeed = 0
		e.state.HasAltitude = true
		e.baroReady = true
		return e.state, nil
	}

	secs := dt.Seconds()
	pred := e.state.Altitude + e.state.VerticalSpeed*secs
	residual := altitude - pred
	e.state.Altitude = e.cfg.Policy.Apply(pred + e.cfg.BaroAlpha*residual)
	e.state.VerticalSpeed = e.cfg.Policy.Apply(e.state.VerticalSpeed + e.cfg.BaroBeta*residual/secs)
	return e.state, nil
}
