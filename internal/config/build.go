package config

import (
	"time"

	"github.com/relabs-tech/quad_controller/internal/control"
	"github.com/relabs-tech/quad_controller/internal/input"
	"github.com/relabs-tech/quad_controller/internal/mathx"
	"github.com/relabs-tech/quad_controller/internal/mixer"
	"github.com/relabs-tech/quad_controller/internal/orientation"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// Policy returns the numeric representation for the control path.
func (c *Config) Policy() (mathx.Policy, error) {
	return mathx.NewPolicy(c.NumericMode, c.NumericFracBits)
}

// LoopConfig returns the control loop timing.
func (c *Config) LoopConfig() control.Config {
	return control.Config{Period: ms(c.LoopPeriodMS), BaroEvery: c.BaroEvery}
}

// TelemetryInterval is the minimum spacing between telemetry records.
func (c *Config) TelemetryInterval() time.Duration { return ms(c.TelemetryIntervalMS) }

// EstimatorConfig returns the attitude filter settings.
func (c *Config) EstimatorConfig() (orientation.Config, error) {
	p, err := c.Policy()
	if err != nil {
		return orientation.Config{}, err
	}
	e := orientation.DefaultConfig()
	e.GyroWeight = c.GyroWeight
	e.GyroLimit = c.GyroLimitDPS
	e.AccelMinG = c.AccelMinG
	e.AccelMaxG = c.AccelMaxG
	e.MaxStaleTicks = c.SensorFaultTicks
	e.Policy = p
	return e, nil
}

// DecoderConfig returns the pilot input settings.
func (c *Config) DecoderConfig() input.Config {
	return input.Config{
		MaxRollRate:  c.MaxRateRoll,
		MaxPitchRate: c.MaxRatePitch,
		MaxYawRate:   c.MaxRateYaw,
		Deadband:     c.StickDeadband,
		LinkTimeout:  ms(c.LinkTimeoutMS),
	}
}

// MixerConfig returns the gains, layout and output range.
func (c *Config) MixerConfig() (mixer.Config, error) {
	layout, err := mixer.LayoutByName(c.FrameLayout)
	if err != nil {
		return mixer.Config{}, err
	}
	p, err := c.Policy()
	if err != nil {
		return mixer.Config{}, err
	}
	return mixer.Config{
		Gains:         c.Gains,
		Layout:        layout,
		DutyMax:       c.DutyMax,
		HoverThrottle: c.HoverThrottle,
		MaxClimbRate:  c.MaxClimbRate,
		Policy:        p,
	}, nil
}
