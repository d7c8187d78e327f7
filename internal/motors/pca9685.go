// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package motors drives the four ESCs from a PCA9685 PWM expander.
package motors

import (
	"fmt"
	"io"
	"log"
	"math"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/pca9685"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/quad_controller/internal/mathx"
	"github.com/relabs-tech/quad_controller/internal/mixer"
)

// pwmSteps is the PCA9685 counter resolution.
const pwmSteps = 4096

// Config describes the ESC wiring and pulse range.
type Config struct {
	I2CBus   string
	Addr     uint16
	Channels [4]int // PCA9685 channel per motor, in layout order
	FreqHz   float64

	PulseMinUS float64 // pulse at duty 0 (motor stopped)
	PulseMaxUS float64 // pulse at DutyMax
	DutyMax    float64

	// Calibrate runs the ESC range calibration at open: full pulse, hold,
	// minimum pulse, hold.
	Calibrate       bool
	CalibrationHold time.Duration
}

// DefaultConfig is a 50 Hz servo-style ESC on channels 0-3.
func DefaultConfig() Config {
	return Config{
		I2CBus:          "/dev/i2c-1",
		Addr:            0x40,
		Channels:        [4]int{0, 1, 2, 3},
		FreqHz:          50,
		PulseMinUS:      1000,
		PulseMaxUS:      2000,
		DutyMax:         1,
		CalibrationHold: time.Second,
	}
}

func (c Config) validate() error {
	switch {
	case !(c.FreqHz > 0):
		return fmt.Errorf("PWM frequency must be > 0, got %g", c.FreqHz)
	case c.PulseMinUS <= 0 || c.PulseMaxUS <= c.PulseMinUS:
		return fmt.Errorf("pulse range %g-%g us is invalid", c.PulseMinUS, c.PulseMaxUS)
	case c.PulseMaxUS >= 1e6/c.FreqHz:
		return fmt.Errorf("max pulse %g us does not fit a %g Hz period", c.PulseMaxUS, c.FreqHz)
	case !(c.DutyMax > 0):
		return fmt.Errorf("duty max must be > 0, got %g", c.DutyMax)
	}
	seen := map[int]bool{}
	for _, ch := range c.Channels {
		if ch < 0 || ch > 15 || seen[ch] {
			return fmt.Errorf("motor channels %v must be distinct and within 0-15", c.Channels)
		}
		seen[ch] = true
	}
	return nil
}

// Ticks converts a duty in [0, DutyMax] to PCA9685 off-counts.
func (c Config) Ticks(duty float64) int {
	if !mathx.Finite(duty) {
		duty = 0
	}
	us := mathx.MapRange(mathx.Clamp(duty, 0, c.DutyMax), 0, c.DutyMax, c.PulseMinUS, c.PulseMaxUS)
	return c.pulseTicks(us)
}

func (c Config) pulseTicks(us float64) int {
	periodUS := 1e6 / c.FreqHz
	t := int(math.Round(us / periodUS * pwmSteps))
	if t > pwmSteps-1 {
		t = pwmSteps - 1
	}
	return t
}

type pwmDriver interface {
	SetPwm(channel int, on, off gpio.Duty) error
}

// ESCs writes motor commands as PWM pulses.
type ESCs struct {
	cfg   Config
	dev   pwmDriver
	bus   io.Closer
	sleep func(time.Duration)
	last  [4]int
}

// Open initializes the PCA9685 and leaves every motor at the minimum pulse.
func Open(cfg Config) (*ESCs, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("motors: %w", err)
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("motors: periph host init: %w", err)
	}
	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("motors: I2C open %s: %w", cfg.I2CBus, err)
	}
	dev, err := pca9685.NewI2C(bus, cfg.Addr)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("motors: PCA9685 at 0x%02X: %w", cfg.Addr, err)
	}
	freq := physic.Frequency(cfg.FreqHz * float64(physic.Hertz))
	if err := dev.SetPwmFreq(freq); err != nil {
		bus.Close()
		return nil, fmt.Errorf("motors: set PWM frequency %v: %w", freq, err)
	}
	log.Printf("motors: PCA9685 at 0x%02X on %s, %v, channels %v", cfg.Addr, cfg.I2CBus, freq, cfg.Channels)
	e, err := newESCs(cfg, dev, bus)
	if err != nil {
		bus.Close()
		return nil, err
	}
	return e, nil
}

func newESCs(cfg Config, dev pwmDriver, bus io.Closer) (*ESCs, error) {
	e := &ESCs{cfg: cfg, dev: dev, bus: bus, sleep: time.Sleep}
	if cfg.Calibrate {
		if err := e.CalibrateRange(); err != nil {
			return nil, err
		}
	}
	if err := e.WriteMotors(mixer.SafeIdle()); err != nil {
		return nil, err
	}
	return e, nil
}

// CalibrateRange teaches the ESCs their throttle range. Propellers must be off.
func (e *ESCs) CalibrateRange() error {
	log.Printf("motors: ESC calibration, max pulse %.0f us", e.cfg.PulseMaxUS)
	if err := e.writeAll(e.cfg.pulseTicks(e.cfg.PulseMaxUS)); err != nil {
		return err
	}
	e.sleep(e.cfg.CalibrationHold)
	log.Printf("motors: ESC calibration, min pulse %.0f us", e.cfg.PulseMinUS)
	if err := e.writeAll(e.cfg.pulseTicks(e.cfg.PulseMinUS)); err != nil {
		return err
	}
	e.sleep(e.cfg.CalibrationHold)
	return nil
}

func (e *ESCs) writeAll(ticks int) error {
	for i, ch := range e.cfg.Channels {
		if err := e.dev.SetPwm(ch, 0, gpio.Duty(ticks)); err != nil {
			return fmt.Errorf("motors: channel %d: %w", ch, err)
		}
		e.last[i] = ticks
	}
	return nil
}

// WriteMotors implements control.MotorWriter. Channels whose pulse did not
// change are not rewritten.
func (e *ESCs) WriteMotors(cmd mixer.MotorCommand) error {
	for i, ch := range e.cfg.Channels {
		t := e.cfg.Ticks(cmd[i])
		if t == e.last[i] {
			continue
		}
		if err := e.dev.SetPwm(ch, 0, gpio.Duty(t)); err != nil {
			return fmt.Errorf("motors: channel %d: %w", ch, err)
		}
		e.last[i] = t
	}
	return nil
}

// Close leaves every motor at the minimum pulse and releases the bus. The bus
// is released even when the final write fails.
func (e *ESCs) Close() error {
	err := e.WriteMotors(mixer.SafeIdle())
	if err != nil {
		log.Printf("motors: error writing safe idle on close: %v", err)
	}
	if e.bus == nil {
		return err
	}
	if cerr := e.bus.Close(); cerr != nil {
		return fmt.Errorf("motors: close I2C bus: %w", cerr)
	}
	e.bus = nil
	return err
}

// Ticks returns the last off-count written per motor.
func (e *ESCs) Ticks() [4]int { return e.last }
