package mixer

import (
	"math"
	"math/rand"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/relabs-tech/quad_controller/internal/fault"
	"github.com/relabs-tech/quad_controller/internal/input"
	"github.com/relabs-tech/quad_controller/internal/mathx"
	"github.com/relabs-tech/quad_controller/internal/orientation"
	"github.com/relabs-tech/quad_controller/internal/pid"
)

const tick = 5 * time.Millisecond

func testConfig() Config {
	axis := pid.Config{Kp: 0.004, Ki: 0.002, Kd: 0.0001, Min: -0.5, Max: 0.5, WindupMargin: 0.25}
	return Config{
		Gains: Gains{
			Roll:     axis,
			Pitch:    axis,
			Yaw:      axis,
			Altitude: pid.Config{Kp: 0.2, Ki: 0.05, Min: -0.3, Max: 0.3},
		},
		Layout:        QuadX,
		DutyMax:       1,
		HoverThrottle: 0.45,
		MaxClimbRate:  2,
	}
}

func newMixer(mut func(*Config)) *Mixer {
	cfg := testConfig()
	if mut != nil {
		mut(&cfg)
	}
	m, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return m
}

func armed(roll, pitch, yaw, throttle float64) input.Setpoint {
	return input.Setpoint{RollRate: roll, PitchRate: pitch, YawRate: yaw, Throttle: throttle, Arm: input.Armed}
}

func TestMixBounds(t *testing.T) {
	Convey("For random valid inputs every duty stays within [0, DutyMax]", t, func() {
		rng := rand.New(rand.NewSource(7))
		for _, layout := range []Layout{QuadX, QuadPlus} {
			m := newMixer(func(c *Config) { c.Layout = layout; c.DutyMax = 0.9 })
			for i := 0; i < 5000; i++ {
				sp := armed(rng.Float64()*400-200, rng.Float64()*400-200, rng.Float64()*300-150, rng.Float64())
				att := orientation.State{
					RollRate:  rng.Float64()*4000 - 2000,
					PitchRate: rng.Float64()*4000 - 2000,
					YawRate:   rng.Float64()*4000 - 2000,
				}
				cmd := m.Mix(sp, att, tick)
				for _, d := range cmd {
					So(d, ShouldBeBetweenOrEqual, 0, 0.9)
				}
			}
		}
	})
}

func TestDesaturate(t *testing.T) {
	ratios := func(in, out MotorCommand) []float64 {
		var r []float64
		for i := 0; i < 4; i++ {
			for j := i + 1; j < 4; j++ {
				if in[i] != in[j] {
					r = append(r, (out[i]-out[j])/(in[i]-in[j]))
				}
			}
		}
		return r
	}

	Convey("Overflow is scaled proportionally, not clamped per motor", t, func() {
		in := MotorCommand{1.2, 0.8, 0.6, 1.0}
		out, sat := Desaturate(in, 1)
		So(sat, ShouldBeTrue)
		So(out[0], ShouldAlmostEqual, 1, 1e-12)
		for _, r := range ratios(in, out) {
			So(r, ShouldAlmostEqual, 1/1.2, 1e-12)
		}
		So(out[2]/out[1], ShouldAlmostEqual, 0.6/0.8, 1e-12)
	})

	Convey("Overflow with a negative motor is fitted to the full span", t, func() {
		in := MotorCommand{1.3, -0.1, 0.5, 0.7}
		out, sat := Desaturate(in, 1)
		So(sat, ShouldBeTrue)
		So(out[0], ShouldAlmostEqual, 1, 1e-12)
		So(out[1], ShouldAlmostEqual, 0, 1e-12)
		for _, r := range ratios(in, out) {
			So(r, ShouldAlmostEqual, 1/1.4, 1e-12)
		}
	})

	Convey("In-range commands pass through", t, func() {
		in := MotorCommand{0.1, 0.2, 0.3, 0.4}
		out, sat := Desaturate(in, 1)
		So(sat, ShouldBeFalse)
		So(out, ShouldResemble, in)
	})

	Convey("Underflow alone is clamped at zero", t, func() {
		out, sat := Desaturate(MotorCommand{-0.2, 0.1, 0.3, 0.05}, 1)
		So(sat, ShouldBeTrue)
		So(out, ShouldResemble, MotorCommand{0, 0.1, 0.3, 0.05})
	})

	Convey("Non-finite values never reach the motors", t, func() {
		out, _ := Desaturate(MotorCommand{math.NaN(), math.Inf(1), 0.5, 0.5}, 1)
		So(out, ShouldResemble, MotorCommand{0, 0, 0.5, 0.5})
	})
}

func TestDisarmed(t *testing.T) {
	Convey("Disarmed mixing returns safe idle for arbitrary inputs", t, func() {
		rng := rand.New(rand.NewSource(11))
		m := newMixer(nil)
		weird := []float64{math.NaN(), math.Inf(1), math.Inf(-1), 1e308, -1e308}
		for i := 0; i < 2000; i++ {
			pick := func() float64 {
				if rng.Intn(5) == 0 {
					return weird[rng.Intn(len(weird))]
				}
				return rng.NormFloat64() * 1000
			}
			sp := input.Setpoint{
				RollRate: pick(), PitchRate: pick(), YawRate: pick(), Throttle: pick(), Climb: pick(),
				Arm:  input.Disarmed,
				Mode: input.FlightMode(rng.Intn(2)),
			}
			att := orientation.State{RollRate: pick(), PitchRate: pick(), YawRate: pick(), VerticalSpeed: pick(), HasAltitude: true}
			dt := time.Duration(rng.Int63n(int64(time.Second))) - 100*time.Millisecond
			So(m.Mix(sp, att, dt), ShouldResemble, SafeIdle())
		}
	})

	Convey("After a disarm transition the integral is zero on the next update", t, func() {
		m := newMixer(nil)
		for i := 0; i < 100; i++ {
			m.Mix(armed(50, -50, 20, 0.5), orientation.State{}, tick)
		}
		So(m.Controller(Roll).Integral(), ShouldNotEqual, 0)

		m.Mix(input.Setpoint{Arm: input.Disarmed}, orientation.State{}, tick)
		for _, a := range []Axis{Roll, Pitch, Yaw, Altitude} {
			So(m.Controller(a).Integral(), ShouldEqual, 0)
		}

		m.Mix(armed(0, 0, 0, 0.5), orientation.State{}, tick)
		So(m.Controller(Roll).Integral(), ShouldEqual, 0)
	})
}

func TestMixingDirection(t *testing.T) {
	Convey("On an X frame", t, func() {
		m := newMixer(nil)

		Convey("a roll-right demand speeds up the left motors", func() {
			cmd := m.Mix(armed(100, 0, 0, 0.5), orientation.State{}, tick)
			So(cmd[2], ShouldBeGreaterThan, cmd[1])
			So(cmd[3], ShouldBeGreaterThan, cmd[0])
			So(cmd[0], ShouldAlmostEqual, cmd[1], 1e-12)
		})

		Convey("a nose-up demand speeds up the front motors", func() {
			cmd := m.Mix(armed(0, 100, 0, 0.5), orientation.State{}, tick)
			So(cmd[0], ShouldBeGreaterThan, cmd[1])
			So(cmd[3], ShouldBeGreaterThan, cmd[2])
		})

		Convey("zero error gives equal duties at the throttle", func() {
			cmd := m.Mix(armed(0, 0, 0, 0.4), orientation.State{}, tick)
			So(cmd, ShouldResemble, MotorCommand{0.4, 0.4, 0.4, 0.4})
			So(m.LastSaturated(), ShouldBeFalse)
		})
	})

	Convey("On a plus frame", t, func() {
		m := newMixer(func(c *Config) { c.Layout = QuadPlus })

		Convey("a roll-right demand speeds up port like the X frame's left side", func() {
			cmd := m.Mix(armed(100, 0, 0, 0.5), orientation.State{}, tick)
			So(cmd[2], ShouldBeGreaterThan, cmd[3])
			So(cmd[0], ShouldAlmostEqual, cmd[1], 1e-12)

			x := newMixer(nil).Mix(armed(100, 0, 0, 0.5), orientation.State{}, tick)
			So(cmd[2]-cmd[3] > 0, ShouldEqual, x[2]-x[1] > 0)
		})

		Convey("a nose-up demand speeds up the bow", func() {
			cmd := m.Mix(armed(0, 100, 0, 0.5), orientation.State{}, tick)
			So(cmd[0], ShouldBeGreaterThan, cmd[1])
			So(cmd[2], ShouldAlmostEqual, cmd[3], 1e-12)
		})
	})

	Convey("On a plus frame yaw drives the pairs against each other", t, func() {
		m := newMixer(func(c *Config) { c.Layout = QuadPlus })
		cmd := m.Mix(armed(0, 0, 100, 0.5), orientation.State{}, tick)
		So(cmd[0], ShouldAlmostEqual, cmd[1], 1e-12)
		So(cmd[2], ShouldAlmostEqual, cmd[3], 1e-12)
		So(cmd[0], ShouldBeGreaterThan, cmd[2])
	})
}

func TestAltitudeHold(t *testing.T) {
	Convey("Given altitude hold with a baro estimate", t, func() {
		m := newMixer(nil)
		sp := armed(0, 0, 0, 0)
		sp.Mode = input.AltitudeHold
		att := orientation.State{HasAltitude: true}

		Convey("a centred stick at zero vertical speed holds hover throttle", func() {
			cmd := m.Mix(sp, att, tick)
			for _, d := range cmd {
				So(d, ShouldAlmostEqual, 0.45, 1e-12)
			}
		})

		Convey("a climb demand raises the throttle above hover", func() {
			sp.Climb = 1
			m.Mix(sp, att, tick)
			So(m.LastCorrections().Throttle, ShouldBeGreaterThan, 0.45)
		})

		Convey("without an altitude estimate the stick throttle is used", func() {
			sp.Throttle = 0.3
			m.Mix(sp, orientation.State{}, tick)
			So(m.LastCorrections().Throttle, ShouldEqual, 0.3)
		})
	})
}

func TestArmingInAltitudeHold(t *testing.T) {
	Convey("A pilot who arms with altitude hold selected and the stick centred", t, func() {
		d, err := input.NewDecoder(input.DefaultConfig())
		So(err, ShouldBeNil)
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		d.Decode(input.EncodePacket(input.Pad{L2: true}), now)
		sp, err := d.Decode(input.EncodePacket(input.Pad{Start: true, R1: true}), now.Add(tick))
		So(err, ShouldBeNil)
		So(sp.Arm, ShouldEqual, input.Armed)

		Convey("does not spin the motors up to hover on the ground", func() {
			m := newMixer(nil)
			cmd := m.Mix(sp, orientation.State{HasAltitude: true}, tick)
			for _, duty := range cmd {
				So(duty, ShouldAlmostEqual, 0, 1e-12)
			}
		})
	})
}

func TestFixedPointBounds(t *testing.T) {
	Convey("Given a Q4 policy and a DutyMax off the 1/16 grid", t, func() {
		q4, err := mathx.NewPolicy("fixed", 4)
		So(err, ShouldBeNil)
		m := newMixer(func(c *Config) { c.DutyMax = 0.97; c.Policy = q4 })

		Convey("full throttle never commands more than DutyMax", func() {
			cmd := m.Mix(armed(0, 0, 0, 1), orientation.State{}, tick)
			for _, d := range cmd {
				So(d, ShouldBeLessThanOrEqualTo, 0.97)
				So(d*16, ShouldEqual, math.Round(d*16))
			}
		})

		Convey("saturating corrections stay within [0, DutyMax]", func() {
			rng := rand.New(rand.NewSource(11))
			for i := 0; i < 500; i++ {
				sp := armed(rng.Float64()*400-200, rng.Float64()*400-200, rng.Float64()*300-150, rng.Float64())
				for _, d := range m.Mix(sp, orientation.State{}, tick) {
					So(d, ShouldBeBetweenOrEqual, 0, 0.97)
				}
			}
		})
	})
}

func TestConfig(t *testing.T) {
	Convey("Invalid settings are configuration errors", t, func() {
		cfg := testConfig()
		cfg.DutyMax = 0
		_, err := New(cfg)
		So(fault.Of(err), ShouldEqual, fault.ConfigurationError)

		cfg = testConfig()
		cfg.Gains.Yaw.Min = 1
		_, err = New(cfg)
		So(fault.Of(err), ShouldEqual, fault.ConfigurationError)
	})

	Convey("Layouts resolve by name", t, func() {
		l, err := LayoutByName("plus")
		So(err, ShouldBeNil)
		So(l.Name, ShouldEqual, "plus")
		_, err = LayoutByName("hexa")
		So(err, ShouldNotBeNil)
	})

	Convey("Reconfigure rejects bad gains and keeps the old ones", t, func() {
		m := newMixer(nil)
		So(m.Reconfigure(Pitch, pid.Config{Kp: 1, Min: 1, Max: 0}), ShouldNotBeNil)
		So(m.Controller(Pitch).Config().Kp, ShouldEqual, 0.004)
		So(m.Reconfigure(Pitch, pid.Config{Kp: 0.01, Min: -1, Max: 1}), ShouldBeNil)
		So(m.Controller(Pitch).Config().Kp, ShouldEqual, 0.01)
	})
}
