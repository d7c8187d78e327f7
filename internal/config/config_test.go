package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/relabs-tech/quad_controller/internal/fault"
	"github.com/relabs-tech/quad_controller/internal/mathx"
	"github.com/relabs-tech/quad_controller/internal/mixer"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const bench = `
# bench frame on the simulator
LOOP_PERIOD_MS=4
LINK_TIMEOUT_MS = 300
SENSOR_SOURCE=sim
MOTOR_OUTPUT=sim
RECEIVER_SOURCE=sim
FRAME_LAYOUT=plus
PID_ROLL_KP=0.005
PID_ALT_MARGIN=0.2
MOTOR_CHANNELS=4, 5, 6, 7
MOTOR_I2C_ADDR=0x41
NUMERIC_MODE=fixed
NUMERIC_FRAC_BITS=10
`

func TestLoad(t *testing.T) {
	Convey("A config file overrides the defaults key by key", t, func() {
		cfg, err := Load(writeFile(t, "quad.cfg", bench))
		So(err, ShouldBeNil)
		So(cfg.LoopPeriodMS, ShouldEqual, 4)
		So(cfg.LinkTimeoutMS, ShouldEqual, 300)
		So(cfg.FrameLayout, ShouldEqual, "plus")
		So(cfg.Gains.Roll.Kp, ShouldEqual, 0.005)
		So(cfg.Gains.Pitch.Kp, ShouldEqual, Default().Gains.Pitch.Kp)
		So(cfg.Gains.Altitude.WindupMargin, ShouldEqual, 0.2)
		So(cfg.MotorChannels, ShouldResemble, [4]int{4, 5, 6, 7})
		So(cfg.MotorI2CAddr, ShouldEqual, uint16(0x41))
		So(cfg.TelemetryIntervalMS, ShouldEqual, 100)

		Convey("and builds the component configurations", func() {
			So(cfg.LoopConfig().Period, ShouldEqual, 4*time.Millisecond)
			So(cfg.DecoderConfig().LinkTimeout, ShouldEqual, 300*time.Millisecond)

			mc, err := cfg.MixerConfig()
			So(err, ShouldBeNil)
			So(mc.Layout.Name, ShouldEqual, mixer.QuadPlus.Name)
			So(mc.Policy.Mode, ShouldEqual, mathx.Fixed)

			ec, err := cfg.EstimatorConfig()
			So(err, ShouldBeNil)
			So(ec.MaxStaleTicks, ShouldEqual, 10)
			So(ec.Policy.FracBits, ShouldEqual, uint(10))
		})
	})

	Convey("Environment variables override the file", t, func() {
		t.Setenv("QUAD_LOOP_PERIOD_MS", "2")
		t.Setenv("QUAD_STICK_DEADBAND", "0.1")
		cfg, err := Load(writeFile(t, "quad.cfg", bench))
		So(err, ShouldBeNil)
		So(cfg.LoopPeriodMS, ShouldEqual, 2)
		So(cfg.StickDeadband, ShouldEqual, 0.1)
	})

	Convey("Bad input is a configuration error", t, func() {
		for _, body := range []string{
			"NOT_A_KEY=1",
			"LOOP_PERIOD_MS",
			"LOOP_PERIOD_MS=0",
			"GYRO_WEIGHT=1.5",
			"FRAME_LAYOUT=hexa",
			"PID_ROLL_KX=1",
			"PID_TILT_KP=1",
			"MOTOR_CHANNELS=0,1,2",
			"SENSOR_SOURCE=sim\nMOTOR_OUTPUT=sim\nRECEIVER_SOURCE=sim\nPID_YAW_MIN=1",
			"SENSOR_SOURCE=sim\nMOTOR_OUTPUT=sim\nRECEIVER_SOURCE=radio",
			"SENSOR_SOURCE=sim\nMOTOR_OUTPUT=sim\nRECEIVER_SOURCE=sim\nLINK_TIMEOUT_MS=5",
		} {
			_, err := Load(writeFile(t, "bad.cfg", body))
			So(err, ShouldNotBeNil)
			So(errors.Is(err, fault.ConfigurationError), ShouldBeTrue)
		}
	})

	Convey("A missing file is a configuration error", t, func() {
		_, err := Load(filepath.Join(t.TempDir(), "absent.cfg"))
		So(errors.Is(err, fault.ConfigurationError), ShouldBeTrue)
	})
}

func TestGainProfile(t *testing.T) {
	Convey("A YAML profile replaces only the axes it names", t, func() {
		profile := writeFile(t, "gains.yaml", `
roll:
  kp: 0.01
  ki: 0.003
  kd: 0.0002
  min: -0.4
  max: 0.4
  windup_margin: 0.1
altitude:
  kp: 0.3
  min: -0.2
  max: 0.2
`)
		cfg, err := Load(writeFile(t, "quad.cfg", bench+"PID_PROFILE="+profile+"\n"))
		So(err, ShouldBeNil)
		So(cfg.Gains.Roll.Kp, ShouldEqual, 0.01)
		So(cfg.Gains.Roll.WindupMargin, ShouldEqual, 0.1)
		So(cfg.Gains.Altitude.Kp, ShouldEqual, 0.3)
		So(cfg.Gains.Altitude.Ki, ShouldEqual, 0)
		So(cfg.Gains.Yaw, ShouldResemble, Default().Gains.Yaw)
	})

	Convey("Unknown axes and fields are rejected", t, func() {
		g := Default().Gains
		So(LoadGainProfile(writeFile(t, "a.yaml", "tilt:\n  kp: 1\n"), &g), ShouldNotBeNil)
		So(LoadGainProfile(writeFile(t, "b.yaml", "roll:\n  gain: 1\n"), &g), ShouldNotBeNil)
	})
}

func TestGlobal(t *testing.T) {
	Convey("The global is set once", t, func() {
		path := writeFile(t, "quad.cfg", bench)
		So(InitGlobal(path), ShouldBeNil)
		So(Get(), ShouldNotBeNil)
		So(Get().LoopPeriodMS, ShouldEqual, 4)
	})
}
