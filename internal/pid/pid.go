// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package pid implements the scalar PID controller used for every control axis.
package pid

import (
	"fmt"
	"math"
	"time"

	"github.com/relabs-tech/quad_controller/internal/fault"
	"github.com/relabs-tech/quad_controller/internal/mathx"
)

// Config holds the gains and output limits of one controller.
type Config struct {
	Kp float64 `yaml:"kp"`
	Ki float64 `yaml:"ki"`
	Kd float64 `yaml:"kd"`

	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`

	// WindupMargin is how far past Min/Max the unclamped output may go before the
	// integral is discarded. Zero disables the reset; saturation still stops
	// accumulation.
	WindupMargin float64 `yaml:"windup_margin"`
}

// Validate checks gains and bounds.
func (c Config) Validate() error {
	if !mathx.Finite(c.Kp, c.Ki, c.Kd, c.Min, c.Max, c.WindupMargin) {
		return fault.New(fault.ConfigurationError, "pid", "non-finite gain or bound")
	}
	if c.Kp < 0 || c.Ki < 0 || c.Kd < 0 {
		return fault.New(fault.ConfigurationError, "pid", fmt.Sprintf("gains must be >= 0, got kp=%g ki=%g kd=%g", c.Kp, c.Ki, c.Kd))
	}
	if c.Min >= c.Max {
		return fault.New(fault.ConfigurationError, "pid", fmt.Sprintf("min %g must be below max %g", c.Min, c.Max))
	}
	if c.WindupMargin < 0 {
		return fault.New(fault.ConfigurationError, "pid", fmt.Sprintf("windup margin must be >= 0, got %g", c.WindupMargin))
	}
	return nil
}

// Terms is the contribution of each term to the last output.
type Terms struct {
	P, I, D   float64
	Unclamped float64
	Output    float64
	Saturated bool
}

// Controller is a PID with derivative on measurement and conditional integration.
// It is not safe for concurrent use; each axis owns one.
type Controller struct {
	cfg    Config
	policy mathx.Policy

	integral float64
	prevMeas float64
	primed   bool

	last Terms
}

// New validates cfg and returns a zeroed controller.
func New(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{cfg: cfg}, nil
}

// SetPolicy sets the numeric representation applied to the output.
func (c *Controller) SetPolicy(p mathx.Policy) { c.policy = p }

// Config returns the active configuration.
func (c *Controller) Config() Config { return c.cfg }

// Reconfigure swaps gains and bounds. The integral and derivative memory are
// cleared so the new gains start from a known state.
func (c *Controller) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg
	c.Reset()
	return nil
}

// Reset clears the integral and derivative memory.
func (c *Controller) Reset() {
	c.integral = 0
	c.prevMeas = 0
	c.primed = false
	c.last = Terms{}
}

// Integral returns the accumulated integral (error·seconds).
func (c *Controller) Integral() float64 { return c.integral }

// Diagnostics returns the terms of the last update.
func (c *Controller) Diagnostics() Terms { return c.last }

// Update returns the clamped correction for one step. A non-positive dt leaves
// the state untouched and repeats the previous output.
func (c *Controller) Update(setpoint, measurement float64, dt time.Duration) float64 {
	secs := dt.Seconds()
	if secs <= 0 {
		return c.last.Output
	}

	e := setpoint - measurement
	candidate := c.integral + e*secs

	var deriv float64
	if c.primed {
		deriv = -(measurement - c.prevMeas) / secs
	}
	c.prevMeas = measurement
	c.primed = true

	p := c.cfg.Kp * e
	d := c.cfg.Kd * deriv
	u := p + c.cfg.Ki*candidate + d

	margin := c.cfg.WindupMargin
	saturated := u > c.cfg.Max || u < c.cfg.Min
	switch {
	case margin > 0 && (u > c.cfg.Max+margin || u < c.cfg.Min-margin):
		c.integral = 0
	case (u > c.cfg.Max && e > 0) || (u < c.cfg.Min && e < 0):
		// saturated and the error pushes further out: hold the integral
	default:
		c.integral = candidate
	}

	i := c.cfg.Ki * c.integral
	u = p + i + d
	out := c.policy.ApplyWithin(u, c.cfg.Min, c.cfg.Max)
	if math.IsNaN(out) {
		out = 0
	}

	c.last = Terms{P: p, I: i, D: d, Unclamped: u, Output: out, Saturated: saturated}
	return out
}
