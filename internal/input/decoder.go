// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package input

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/relabs-tech/quad_controller/internal/fault"
	"github.com/relabs-tech/quad_controller/internal/mathx"
)

// Config bounds the commanded rates and sets the link timeout.
type Config struct {
	MaxRollRate  float64 // deg/s at full stick
	MaxPitchRate float64
	MaxYawRate   float64
	Deadband     float64 // stick magnitude below which input is zero, [0,1)
	LinkTimeout  time.Duration
}

// DefaultConfig matches the bench frame tuning.
func DefaultConfig() Config {
	return Config{
		MaxRollRate:  200,
		MaxPitchRate: 200,
		MaxYawRate:   150,
		Deadband:     0.15,
		LinkTimeout:  500 * time.Millisecond,
	}
}

func (c Config) validate() error {
	if c.MaxRollRate <= 0 || c.MaxPitchRate <= 0 || c.MaxYawRate <= 0 {
		return fmt.Errorf("max rates must be > 0, got roll=%g pitch=%g yaw=%g", c.MaxRollRate, c.MaxPitchRate, c.MaxYawRate)
	}
	if c.Deadband < 0 || c.Deadband >= 1 {
		return fmt.Errorf("deadband must be in [0,1), got %g", c.Deadband)
	}
	if c.LinkTimeout <= 0 {
		return fmt.Errorf("link timeout must be > 0, got %v", c.LinkTimeout)
	}
	return nil
}

// Stats counts decoder events for telemetry.
type Stats struct {
	Packets     uint64 `json:"packets"`
	Malformed   uint64 `json:"malformed"`
	ArmRejected uint64 `json:"arm_rejected"`
	LinkLosses  uint64 `json:"link_losses"`
}

// Decoder turns pilot packets into setpoints and owns the arm state machine.
type Decoder struct {
	cfg Config

	arm      ArmState
	mode     FlightMode
	armHeld  bool
	last     Setpoint
	lastRx   time.Time
	haveLink bool
	lost     bool

	stats Stats
}

// NewDecoder returns a disarmed decoder with no link.
func NewDecoder(cfg Config) (*Decoder, error) {
	if err := cfg.validate(); err != nil {
		return nil, fault.Wrap(fault.ConfigurationError, "decoder", err)
	}
	return &Decoder{cfg: cfg, last: FailSafe(Rate)}, nil
}

// Decode validates and applies one packet received at now. A malformed packet
// is discarded: the returned setpoint is what Current would return and the
// error carries fault.MalformedInput.
func (d *Decoder) Decode(raw []byte, now time.Time) (Setpoint, error) {
	pad, err := ParsePacket(raw)
	if err != nil {
		d.stats.Malformed++
		return d.Current(now), err
	}
	d.stats.Packets++
	d.lastRx = now
	d.haveLink = true
	if d.lost {
		log.Printf("input: pilot link restored")
		d.lost = false
	}

	sp := Setpoint{
		RollRate:  d.rate(pad.RX, d.cfg.MaxRollRate),
		PitchRate: d.rate(pad.RY, d.cfg.MaxPitchRate),
		YawRate:   d.rate(pad.LX, d.cfg.MaxYawRate),
		Throttle:  d.throttle(-pad.LY),
		Climb:     mathx.Clamp(d.deadband(-pad.LY), -1, 1),
	}

	switch {
	case pad.L1:
		d.mode = Rate
	case pad.L2:
		d.mode = AltitudeHold
	}

	armCombo := pad.Start && pad.R1
	switch {
	case pad.Select:
		if d.arm == Armed {
			log.Printf("input: disarmed by pilot")
		}
		d.arm = Disarmed
	case armCombo && !d.armHeld && d.arm == Disarmed:
		if sp.Throttle <= MinThrottle {
			d.arm = Armed
			if d.mode != Rate {
				log.Printf("input: arming in %s, mode reset to %s", d.mode, Rate)
				d.mode = Rate
			}
			log.Printf("input: armed")
		} else {
			d.stats.ArmRejected++
			log.Printf("input: arm rejected, throttle %.2f above minimum", sp.Throttle)
		}
	}
	d.armHeld = armCombo

	sp.Arm = d.arm
	sp.Mode = d.mode
	d.last = sp
	return sp, nil
}

// Current returns the last good setpoint, or the fail-safe setpoint once no
// valid packet arrived within the link timeout. Link loss drops the arm state.
func (d *Decoder) Current(now time.Time) Setpoint {
	if d.LinkLost(now) {
		if !d.lost {
			d.stats.LinkLosses++
			if d.haveLink {
				log.Printf("input: pilot link lost after %v, fail-safe", now.Sub(d.lastRx))
			}
			d.lost = true
		}
		d.arm = Disarmed
		d.last = FailSafe(d.mode)
		return d.last
	}
	return d.last
}

// LinkLost reports whether the link timed out at now.
func (d *Decoder) LinkLost(now time.Time) bool {
	return !d.haveLink || now.Sub(d.lastRx) > d.cfg.LinkTimeout
}

// ForceDisarm drops to Disarmed regardless of pilot input.
func (d *Decoder) ForceDisarm() {
	d.arm = Disarmed
	d.last.Arm = Disarmed
}

// ArmState returns the current arm state.
func (d *Decoder) ArmState() ArmState { return d.arm }

// Stats returns the event counters.
func (d *Decoder) Stats() Stats { return d.stats }

// rate maps a stick value to a rate with deadband, rescaled so the output is
// continuous at the deadband edge.
func (d *Decoder) rate(v, limit float64) float64 {
	return mathx.Clamp(d.deadband(v)*limit, -limit, limit)
}

func (d *Decoder) throttle(up float64) float64 {
	if up <= 0 {
		return MinThrottle
	}
	return mathx.Clamp(d.deadband(up), MinThrottle, 1)
}

func (d *Decoder) deadband(v float64) float64 {
	a := math.Abs(v)
	if a < d.cfg.Deadband {
		return 0
	}
	return math.Copysign((a-d.cfg.Deadband)/(1-d.cfg.Deadband), v)
}
