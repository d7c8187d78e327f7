// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package mixer turns setpoints and attitude feedback into four motor duties.
package mixer

import (
	"fmt"
	"math"
	"time"

	"github.com/relabs-tech/quad_controller/internal/fault"
	"github.com/relabs-tech/quad_controller/internal/input"
	"github.com/relabs-tech/quad_controller/internal/mathx"
	"github.com/relabs-tech/quad_controller/internal/orientation"
	"github.com/relabs-tech/quad_controller/internal/pid"
)

// MotorCommand holds one duty per motor in [0, DutyMax].
type MotorCommand [4]float64

// SafeIdle is the command written whenever the craft is disarmed.
func SafeIdle() MotorCommand { return MotorCommand{} }

// Axis names a controlled axis.
type Axis int

const (
	Roll Axis = iota
	Pitch
	Yaw
	Altitude
)

func (a Axis) String() string {
	return [...]string{"roll", "pitch", "yaw", "altitude"}[a]
}

// Gains groups the per-axis controller configuration.
type Gains struct {
	Roll     pid.Config `yaml:"roll"`
	Pitch    pid.Config `yaml:"pitch"`
	Yaw      pid.Config `yaml:"yaw"`
	Altitude pid.Config `yaml:"altitude"`
}

// Config is the mixer configuration.
type Config struct {
	Gains  Gains
	Layout Layout

	DutyMax       float64 // highest duty, > 0
	HoverThrottle float64 // throttle that holds altitude, [0,1]
	MaxClimbRate  float64 // m/s at full vertical stick in AltitudeHold

	Policy mathx.Policy
}

func (c Config) validate() error {
	if !(c.DutyMax > 0) || math.IsInf(c.DutyMax, 0) {
		return fmt.Errorf("duty max must be > 0, got %g", c.DutyMax)
	}
	if c.HoverThrottle < 0 || c.HoverThrottle > 1 {
		return fmt.Errorf("hover throttle must be in [0,1], got %g", c.HoverThrottle)
	}
	if c.MaxClimbRate < 0 {
		return fmt.Errorf("max climb rate must be >= 0, got %g", c.MaxClimbRate)
	}
	return nil
}

// Corrections are the per-axis controller outputs of the last armed tick.
type Corrections struct {
	Roll, Pitch, Yaw float64
	Throttle         float64
}

// Mixer runs one PID per axis on rate error and mixes the corrections with
// the throttle into four duties.
type Mixer struct {
	cfg Config

	pids [4]*pid.Controller

	last      Corrections
	saturated bool
}

// New validates the configuration and builds the axis controllers.
func New(cfg Config) (*Mixer, error) {
	if err := cfg.validate(); err != nil {
		return nil, fault.Wrap(fault.ConfigurationError, "mixer", err)
	}
	m := &Mixer{cfg: cfg}
	for i, g := range []pid.Config{cfg.Gains.Roll, cfg.Gains.Pitch, cfg.Gains.Yaw, cfg.Gains.Altitude} {
		c, err := pid.New(g)
		if err != nil {
			return nil, fmt.Errorf("%s controller: %w", Axis(i), err)
		}
		c.SetPolicy(cfg.Policy)
		m.pids[i] = c
	}
	return m, nil
}

// Reconfigure replaces the gains of one axis.
func (m *Mixer) Reconfigure(axis Axis, cfg pid.Config) error {
	if err := m.pids[axis].Reconfigure(cfg); err != nil {
		return fmt.Errorf("%s controller: %w", axis, err)
	}
	return nil
}

// Controller exposes an axis controller for diagnostics.
func (m *Mixer) Controller(axis Axis) *pid.Controller { return m.pids[axis] }

// Reset clears every axis controller.
func (m *Mixer) Reset() {
	for _, c := range m.pids {
		c.Reset()
	}
	m.last = Corrections{}
	m.saturated = false
}

// LastSaturated reports whether the last command had to be desaturated.
func (m *Mixer) LastSaturated() bool { return m.saturated }

// LastCorrections returns the axis outputs of the last armed tick.
func (m *Mixer) LastCorrections() Corrections { return m.last }

// Mix computes the motor command for one tick. While disarmed the controllers
// are held reset and the safe-idle command is returned.
func (m *Mixer) Mix(sp input.Setpoint, att orientation.State, dt time.Duration) MotorCommand {
	if sp.Arm != input.Armed {
		m.Reset()
		return SafeIdle()
	}

	c := Corrections{
		Roll:     m.pids[Roll].Update(sp.RollRate, att.RollRate, dt),
		Pitch:    m.pids[Pitch].Update(sp.PitchRate, att.PitchRate, dt),
		Yaw:      m.pids[Yaw].Update(sp.YawRate, att.YawRate, dt),
		Throttle: m.throttle(sp, att, dt),
	}
	m.last = c

	cmd, sat := Desaturate(m.raw(c), m.cfg.DutyMax)
	m.saturated = sat
	for i := range cmd {
		cmd[i] = m.cfg.Policy.ApplyWithin(cmd[i], 0, m.cfg.DutyMax)
	}
	return cmd
}

func (m *Mixer) throttle(sp input.Setpoint, att orientation.State, dt time.Duration) float64 {
	if sp.Mode != input.AltitudeHold || !att.HasAltitude {
		m.pids[Altitude].Reset()
		return mathx.Clamp(sp.Throttle, 0, 1)
	}
	climb := sp.Climb * m.cfg.MaxClimbRate
	adj := m.pids[Altitude].Update(climb, att.VerticalSpeed, dt)
	return mathx.Clamp(m.cfg.HoverThrottle+adj, 0, 1)
}

func (m *Mixer) raw(c Corrections) MotorCommand {
	var out MotorCommand
	t := c.Throttle * m.cfg.DutyMax
	for i, f := range m.cfg.Layout.Motors {
		out[i] = t + f.Roll*c.Roll + f.Pitch*c.Pitch + f.Yaw*c.Yaw
	}
	return out
}

// Desaturate fits mixed duties into [0, dutyMax]. When the peak exceeds
// dutyMax and no duty is negative all four are scaled by dutyMax/peak;
// otherwise they are rescaled over the [0, dutyMax] span. Both keep the ratios
// between motor differences. Underflow alone is clamped. Non-finite values
// become 0. The second result reports whether any adjustment was needed.
func Desaturate(in MotorCommand, dutyMax float64) (MotorCommand, bool) {
	for i, v := range in {
		if !mathx.Finite(v) {
			in[i] = 0
		}
	}

	peak, trough := in[0], in[0]
	for _, v := range in[1:] {
		peak = math.Max(peak, v)
		trough = math.Min(trough, v)
	}

	out := in
	saturated := false
	switch {
	case peak > dutyMax && trough >= 0:
		k := dutyMax / peak
		for i, v := range in {
			out[i] = v * k
		}
		saturated = true
	case peak > dutyMax:
		k := dutyMax / (peak - trough)
		for i, v := range in {
			out[i] = (v - trough) * k
		}
		saturated = true
	case trough < 0:
		saturated = true
	}

	for i, v := range out {
		out[i] = mathx.Clamp(v, 0, dutyMax)
	}
	return out, saturated
}
