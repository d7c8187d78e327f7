// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package control

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/relabs-tech/quad_controller/internal/fault"
	"github.com/relabs-tech/quad_controller/internal/input"
	"github.com/relabs-tech/quad_controller/internal/mixer"
	"github.com/relabs-tech/quad_controller/internal/orientation"
	"github.com/relabs-tech/quad_controller/internal/telemetry"
)

// Config holds the loop timing.
type Config struct {
	Period time.Duration
	// BaroEvery reads the barometer once every N ticks (0 disables it).
	BaroEvery int
}

// Deps are the components and collaborators owned by the loop. Baro and
// Reporter are optional.
type Deps struct {
	Sensors  SensorReader
	Receiver ReceiverReader
	Motors   MotorWriter
	Baro     BaroReader

	Estimator *orientation.Estimator
	Decoder   *input.Decoder
	Mixer     *mixer.Mixer
	Reporter  *telemetry.Reporter
}

// TickResult is what one tick computed and wrote.
type TickResult struct {
	Tick     uint64
	Attitude orientation.State
	Setpoint input.Setpoint
	Motors   mixer.MotorCommand
	Status   telemetry.Status
}

// Loop is the flight control orchestrator. Tick and Run must be called from a
// single goroutine.
type Loop struct {
	cfg Config
	d   Deps

	tick    uint64
	faulted error
	overrun bool

	sensorDown bool
	rxDown     bool
	motorsDown bool
}

// New checks that the required dependencies are present.
func New(cfg Config, d Deps) (*Loop, error) {
	switch {
	case cfg.Period <= 0:
		return nil, fault.New(fault.ConfigurationError, "control", fmt.Sprintf("loop period must be > 0, got %v", cfg.Period))
	case d.Sensors == nil || d.Receiver == nil || d.Motors == nil:
		return nil, fault.New(fault.ConfigurationError, "control", "sensor, receiver and motor collaborators are required")
	case d.Estimator == nil || d.Decoder == nil || d.Mixer == nil:
		return nil, fault.New(fault.ConfigurationError, "control", "estimator, decoder and mixer are required")
	case cfg.BaroEvery < 0:
		return nil, fault.New(fault.ConfigurationError, "control", "baro interval must be >= 0")
	}
	return &Loop{cfg: cfg, d: d}, nil
}

// Faulted returns the latched fatal error, if any.
func (l *Loop) Faulted() error { return l.faulted }

// Ticks returns the number of ticks run.
func (l *Loop) Ticks() uint64 { return l.tick }

// Tick runs one control step at now with the measured interval dt. Only fatal
// conditions are returned as errors; once a sensor fault has latched every
// later tick writes safe idle and returns the same error.
func (l *Loop) Tick(now time.Time, dt time.Duration) (TickResult, error) {
	if dt <= 0 {
		return TickResult{}, fault.New(fault.InvalidParams, "control", fmt.Sprintf("dt must be > 0, got %v", dt))
	}
	l.tick++
	res := TickResult{Tick: l.tick}
	if l.overrun {
		res.Status |= telemetry.StatusOverrun
		l.overrun = false
	}

	if l.faulted != nil {
		return l.failSafe(now, res)
	}

	att, err := l.readAttitude(dt)
	res.Attitude = att
	if att.Stale {
		res.Status |= telemetry.StatusStale
	}
	if errors.Is(err, fault.SensorFault) {
		l.faulted = err
		log.Printf("control: %v, forcing disarm", err)
		return l.failSafe(now, res)
	}

	if l.d.Baro != nil && l.cfg.BaroEvery > 0 && l.tick%uint64(l.cfg.BaroEvery) == 0 {
		l.readBaro(dt * time.Duration(l.cfg.BaroEvery))
		res.Attitude = l.d.Estimator.State()
	}

	sp, st := l.readSetpoint(now)
	res.Setpoint = sp
	res.Status |= st

	res.Motors = l.d.Mixer.Mix(sp, res.Attitude, dt)
	if l.d.Mixer.LastSaturated() {
		res.Status |= telemetry.StatusSaturated
	}
	l.writeMotors(res.Motors)
	l.report(now, res)
	return res, nil
}

func (l *Loop) failSafe(now time.Time, res TickResult) (TickResult, error) {
	l.d.Decoder.ForceDisarm()
	l.d.Mixer.Reset()
	res.Status |= telemetry.StatusFaulted
	res.Setpoint = input.FailSafe(res.Setpoint.Mode)
	res.Motors = mixer.SafeIdle()
	l.writeMotors(res.Motors)
	l.report(now, res)
	return res, l.faulted
}

func (l *Loop) readAttitude(dt time.Duration) (orientation.State, error) {
	sample, err := l.d.Sensors.ReadSensors()
	if err != nil {
		if !l.sensorDown {
			log.Printf("control: sensor read failed, holding attitude: %v", err)
			l.sensorDown = true
		}
		return l.d.Estimator.Hold()
	}
	if l.sensorDown {
		log.Printf("control: sensor reads recovered")
		l.sensorDown = false
	}
	return l.d.Estimator.Update(sample.Gyro, sample.Accel, dt)
}

func (l *Loop) readBaro(dt time.Duration) {
	alt, err := l.d.Baro.ReadAltitude()
	if err != nil {
		log.Printf("control: baro read failed: %v", err)
		return
	}
	if _, err := l.d.Estimator.UpdateBaro(alt, dt); err != nil {
		log.Printf("control: baro update: %v", err)
	}
}

func (l *Loop) readSetpoint(now time.Time) (input.Setpoint, telemetry.Status) {
	var st telemetry.Status
	raw, ok, err := l.d.Receiver.ReadPacket()
	if err != nil {
		if !l.rxDown {
			log.Printf("control: receiver read failed: %v", err)
			l.rxDown = true
		}
		ok = false
	} else {
		l.rxDown = false
	}

	var sp input.Setpoint
	if ok {
		var derr error
		sp, derr = l.d.Decoder.Decode(raw, now)
		if derr != nil {
			st |= telemetry.StatusMalformed
		}
	} else {
		sp = l.d.Decoder.Current(now)
	}
	if l.d.Decoder.LinkLost(now) {
		st |= telemetry.StatusLinkLost
	}
	return sp, st
}

func (l *Loop) writeMotors(cmd mixer.MotorCommand) {
	if err := l.d.Motors.WriteMotors(cmd); err != nil {
		if !l.motorsDown {
			log.Printf("control: motor write failed: %v", err)
			l.motorsDown = true
		}
		return
	}
	l.motorsDown = false
}

func (l *Loop) report(now time.Time, res TickResult) {
	if l.d.Reporter == nil {
		return
	}
	l.d.Reporter.Sample(telemetry.Snapshot{
		Tick:     res.Tick,
		Time:     now,
		Attitude: res.Attitude,
		Setpoint: res.Setpoint,
		Motors:   res.Motors,
		Status:   res.Status,
	})
}

// Run ticks at the configured period until ctx is cancelled or a fatal fault
// latches. Safe idle is written on the way out in both cases.
func (l *Loop) Run(ctx context.Context) error {
	s := NewScheduler(l.cfg.Period)
	defer s.Stop()
	defer l.writeMotors(mixer.SafeIdle())

	log.Printf("control: loop running at %v", l.cfg.Period)
	for {
		now, dt, overrun, err := s.Next(ctx)
		if err != nil {
			log.Printf("control: stopping after %d ticks (%d overruns)", l.tick, s.Overruns())
			return nil
		}
		l.overrun = overrun
		if n := s.Overruns(); overrun && (n == 1 || n%100 == 0) {
			log.Printf("control: tick overrun, dt %v for period %v (%d total)", dt, l.cfg.Period, n)
		}

		if _, err := l.Tick(now, dt); err != nil && fault.IsFatal(err) {
			return fmt.Errorf("control: tick %d: %w", l.tick, err)
		}
	}
}
