package pid

import (
	"math"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/relabs-tech/quad_controller/internal/fault"
	"github.com/relabs-tech/quad_controller/internal/mathx"
)

const tick = 5 * time.Millisecond

func mustNew(cfg Config) *Controller {
	c, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

func TestZeroError(t *testing.T) {
	Convey("With zero error on every call the correction stays zero", t, func() {
		c := mustNew(Config{Kp: 0.8, Ki: 0.5, Kd: 0.02, Min: -1, Max: 1, WindupMargin: 0.5})
		for _, dt := range []time.Duration{time.Microsecond, tick, 20 * time.Millisecond, time.Second} {
			for i := 0; i < 50; i++ {
				So(c.Update(12.5, 12.5, dt), ShouldEqual, 0)
			}
		}
		So(c.Integral(), ShouldEqual, 0)
	})
}

func TestReset(t *testing.T) {
	Convey("Given a controller with accumulated integral", t, func() {
		c := mustNew(Config{Kp: 0.1, Ki: 1, Min: -100, Max: 100})
		for i := 0; i < 200; i++ {
			c.Update(10, 0, tick)
		}
		So(c.Integral(), ShouldBeGreaterThan, 0)

		Convey("Reset zeroes the integral before the next update", func() {
			c.Reset()
			So(c.Integral(), ShouldEqual, 0)
			out := c.Update(0, 0, tick)
			So(out, ShouldEqual, 0)
			So(c.Integral(), ShouldEqual, 0)
		})
	})
}

func TestAntiWindup(t *testing.T) {
	Convey("While saturated in the direction of the error the integral does not grow", t, func() {
		c := mustNew(Config{Kp: 1, Ki: 1, Min: -1, Max: 1})
		for i := 0; i < 1000; i++ {
			So(c.Update(10, 0, tick), ShouldEqual, 1)
		}
		So(c.Integral(), ShouldEqual, 0)
		So(c.Diagnostics().Saturated, ShouldBeTrue)
	})

	Convey("Exceeding the bound by more than the margin discards the integral", t, func() {
		c := mustNew(Config{Kp: 0.1, Ki: 1, Min: -1, Max: 1, WindupMargin: 0.5})
		for i := 0; i < 100; i++ {
			c.Update(1, 0, tick)
		}
		So(c.Integral(), ShouldBeGreaterThan, 0.4)

		out := c.Update(30, 0, tick)
		So(c.Integral(), ShouldEqual, 0)
		So(out, ShouldEqual, 1)
	})

	Convey("A saturated integral unwinds once the error reverses", t, func() {
		c := mustNew(Config{Kp: 0, Ki: 1, Min: -1, Max: 1})
		for i := 0; i < 400; i++ {
			c.Update(1, 0, tick)
		}
		before := c.Integral()
		c.Update(-1, 0, tick)
		So(c.Integral(), ShouldBeLessThan, before)
	})
}

func TestDerivativeOnMeasurement(t *testing.T) {
	Convey("A setpoint step produces no derivative kick", t, func() {
		c := mustNew(Config{Kd: 1, Min: -1000, Max: 1000})
		c.Update(0, 5, tick)
		So(c.Update(100, 5, tick), ShouldEqual, 0)
	})

	Convey("A measurement change produces an opposing derivative term", t, func() {
		c := mustNew(Config{Kd: 1, Min: -1000, Max: 1000})
		c.Update(0, 0, tick)
		out := c.Update(0, 1, tick)
		So(out, ShouldAlmostEqual, -1/tick.Seconds(), 1e-9)
	})
}

func TestStepResponse(t *testing.T) {
	cfg := Config{Kp: 0.05, Ki: 0.1, Min: -1, Max: 1}

	Convey("Holding a +10 deg/s request against a still measurement ramps the correction up", t, func() {
		c := mustNew(cfg)
		prev := c.Update(10, 0, tick)
		for i := 0; i < 2000; i++ {
			out := c.Update(10, 0, tick)
			So(out, ShouldBeGreaterThanOrEqualTo, prev)
			prev = out
		}
		So(prev, ShouldEqual, 1)
	})

	Convey("Closing the loop on a first-order rate plant settles without oscillation", t, func() {
		c := mustNew(cfg)
		const a, b = 200.0, 2.0 // rate' = a*u - b*rate
		rate := 0.0
		crossings := 0
		prevSign := 1.0
		peak := 0.0
		for i := 0; i < 1000; i++ {
			u := c.Update(10, rate, tick)
			rate += (a*u - b*rate) * tick.Seconds()
			peak = math.Max(peak, rate)
			s := math.Copysign(1, 10-rate)
			if s != prevSign {
				crossings++
				prevSign = s
			}
		}
		So(math.Abs(10-rate), ShouldBeLessThan, 0.05)
		So(peak, ShouldBeLessThan, 10.2)
		So(crossings, ShouldBeLessThanOrEqualTo, 1)
	})
}

func TestConfiguration(t *testing.T) {
	Convey("Invalid configurations are configuration errors", t, func() {
		_, err := New(Config{Kp: -1, Min: -1, Max: 1})
		So(fault.Of(err), ShouldEqual, fault.ConfigurationError)
		_, err = New(Config{Kp: 1, Min: 1, Max: 1})
		So(fault.Of(err), ShouldEqual, fault.ConfigurationError)
		_, err = New(Config{Kp: math.NaN(), Min: -1, Max: 1})
		So(fault.Of(err), ShouldEqual, fault.ConfigurationError)
		_, err = New(Config{Kp: 1, Min: -1, Max: 1, WindupMargin: -0.1})
		So(fault.Of(err), ShouldEqual, fault.ConfigurationError)
	})

	Convey("Reconfigure swaps gains and clears memory", t, func() {
		c := mustNew(Config{Kp: 1, Ki: 1, Min: -10, Max: 10})
		c.Update(1, 0, tick)
		So(c.Reconfigure(Config{Kp: 2, Min: -10, Max: 10}), ShouldBeNil)
		So(c.Integral(), ShouldEqual, 0)
		So(c.Update(1, 0, tick), ShouldEqual, 2)

		So(c.Reconfigure(Config{Kp: 2, Min: 10, Max: -10}), ShouldNotBeNil)
		So(c.Config().Kp, ShouldEqual, 2)
	})

	Convey("A non-positive dt repeats the previous output", t, func() {
		c := mustNew(Config{Kp: 1, Min: -10, Max: 10})
		out := c.Update(3, 0, tick)
		So(c.Update(100, 0, 0), ShouldEqual, out)
		So(c.Update(100, 0, -tick), ShouldEqual, out)
	})

	Convey("A fixed-point policy quantizes the output", t, func() {
		c := mustNew(Config{Kp: 0.123456, Min: -10, Max: 10})
		c.SetPolicy(mathx.Policy{Mode: mathx.Fixed, FracBits: 8})
		out := c.Update(1, 0, tick)
		So(out*256, ShouldEqual, math.Round(out*256))
	})

	Convey("A fixed-point output at a limit off the grid stays within the limits", t, func() {
		c := mustNew(Config{Kp: 10, Min: -0.3, Max: 0.3})
		c.SetPolicy(mathx.Policy{Mode: mathx.Fixed, FracBits: 4})
		So(c.Update(1, 0, tick), ShouldEqual, 0.25)
		So(c.Update(-1, 0, tick), ShouldEqual, -0.25)
		So(c.Diagnostics().Saturated, ShouldBeTrue)
	})
}
