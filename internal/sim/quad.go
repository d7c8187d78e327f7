// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sim is a bench plant for running the control loop without hardware.
// It stands in for the IMU, the barometer, the motors and the pilot radio.
package sim

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/relabs-tech/quad_controller/internal/imu"
	"github.com/relabs-tech/quad_controller/internal/mathx"
	"github.com/relabs-tech/quad_controller/internal/mixer"
)

const gravity = 9.80665

// ErrSensorDown is returned by ReadSensors while a sensor failure is injected.
var ErrSensorDown = errors.New("sim: sensor not responding")

// Config describes the simulated airframe.
type Config struct {
	Layout mixer.Layout
	// Step is the physics step taken on every ReadSensors call. It should
	// match the loop period.
	Step time.Duration

	Authority    float64 // roll/pitch angular accel in deg/s² per unit of mixed duty
	YawAuthority float64 // yaw angular accel in deg/s² per unit of mixed duty
	Drag         float64 // rate damping in 1/s
	HoverDuty    float64 // mean duty at which thrust equals weight

	GyroNoise  float64 // deg/s, 1 sigma
	AccelNoise float64 // g, 1 sigma
	BaroNoise  float64 // m, 1 sigma
	Seed       int64
}

// DefaultConfig is a small X frame that hovers at 45% duty.
func DefaultConfig() Config {
	return Config{
		Layout:       mixer.QuadX,
		Step:         5 * time.Millisecond,
		Authority:    1500,
		YawAuthority: 600,
		Drag:         2,
		HoverDuty:    0.45,
		Seed:         1,
	}
}

// State is the true airframe state.
type State struct {
	Rates    mgl64.Vec3         `json:"rates"`    // deg/s, body roll/pitch/yaw
	Attitude mgl64.Vec3         `json:"attitude"` // deg, roll/pitch/yaw
	Altitude float64            `json:"altitude"` // m above the start point
	Climb    float64            `json:"climb"`    // m/s
	Motors   mixer.MotorCommand `json:"motors"`
}

// Quad is a rigid-body approximation driven by the last motor command. Every
// ReadSensors call advances it by one step. The accelerometer is quasi-static:
// it reports gravity rotated into the body frame.
type Quad struct {
	mu    sync.Mutex
	cfg   Config
	rng   *rand.Rand
	state State
	now   time.Time

	sensorDown bool
}

// NewQuad places the airframe level on the ground.
func NewQuad(cfg Config) *Quad {
	if cfg.Step <= 0 {
		cfg.Step = DefaultConfig().Step
	}
	if cfg.HoverDuty <= 0 {
		cfg.HoverDuty = DefaultConfig().HoverDuty
	}
	return &Quad{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed)), now: time.Unix(0, 0)}
}

// State returns the true state.
func (q *Quad) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// SetAttitude places the airframe at a roll and pitch in degrees.
func (q *Quad) SetAttitude(roll, pitch float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.state.Attitude = mgl64.Vec3{roll, pitch, q.state.Attitude.Z()}
}

// FailSensor makes ReadSensors fail until cleared.
func (q *Quad) FailSensor(down bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sensorDown = down
}

// WriteMotors latches the command for the following steps.
func (q *Quad) WriteMotors(cmd mixer.MotorCommand) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.state.Motors = cmd
	return nil
}

// ReadSensors steps the plant and returns the body rates and gravity vector.
func (q *Quad) ReadSensors() (imu.Sample, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.step(q.cfg.Step.Seconds())
	q.now = q.now.Add(q.cfg.Step)
	if q.sensorDown {
		return imu.Sample{}, ErrSensorDown
	}

	roll, pitch := mgl64.DegToRad(q.state.Attitude.X()), mgl64.DegToRad(q.state.Attitude.Y())
	accel := mgl64.Vec3{
		-math.Sin(pitch),
		math.Sin(roll) * math.Cos(pitch),
		math.Cos(roll) * math.Cos(pitch),
	}
	return imu.Sample{
		Gyro:  q.state.Rates.Add(q.noise(q.cfg.GyroNoise)),
		Accel: accel.Add(q.noise(q.cfg.AccelNoise)),
		Time:  q.now,
	}, nil
}

// ReadAltitude returns the altitude with baro noise.
func (q *Quad) ReadAltitude() (float64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state.Altitude + q.rng.NormFloat64()*q.cfg.BaroNoise, nil
}

func (q *Quad) noise(sigma float64) mgl64.Vec3 {
	if sigma == 0 {
		return mgl64.Vec3{}
	}
	return mgl64.Vec3{q.rng.NormFloat64(), q.rng.NormFloat64(), q.rng.NormFloat64()}.Mul(sigma)
}

func (q *Quad) step(dt float64) {
	s := &q.state
	var torque mgl64.Vec3
	mean := 0.0
	for i, f := range q.cfg.Layout.Motors {
		d := s.Motors[i]
		torque = torque.Add(mgl64.Vec3{f.Roll * d, f.Pitch * d, f.Yaw * d})
		mean += d / 4
	}
	accel := mgl64.Vec3{
		q.cfg.Authority*torque.X() - q.cfg.Drag*s.Rates.X(),
		q.cfg.Authority*torque.Y() - q.cfg.Drag*s.Rates.Y(),
		q.cfg.YawAuthority*torque.Z() - q.cfg.Drag*s.Rates.Z(),
	}

	grounded := s.Altitude <= 0 && mean < q.cfg.HoverDuty
	if grounded {
		s.Rates = mgl64.Vec3{}
		s.Altitude, s.Climb = 0, 0
		return
	}

	s.Rates = s.Rates.Add(accel.Mul(dt))
	s.Attitude = mgl64.Vec3{
		mathx.Clamp(s.Attitude.X()+s.Rates.X()*dt, -180, 180),
		mathx.Clamp(s.Attitude.Y()+s.Rates.Y()*dt, -90, 90),
		math.Mod(s.Attitude.Z()+s.Rates.Z()*dt, 360),
	}

	roll, pitch := mgl64.DegToRad(s.Attitude.X()), mgl64.DegToRad(s.Attitude.Y())
	lift := mean / q.cfg.HoverDuty * math.Cos(roll) * math.Cos(pitch)
	s.Climb += (lift - 1) * gravity * dt
	s.Altitude += s.Climb * dt
	if s.Altitude < 0 {
		s.Altitude, s.Climb = 0, 0
	}
}
