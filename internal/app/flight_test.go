package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/relabs-tech/quad_controller/internal/config"
	"github.com/relabs-tech/quad_controller/internal/fault"
	"github.com/relabs-tech/quad_controller/internal/input"
	"github.com/relabs-tech/quad_controller/internal/mixer"
)

const benchConfig = `
SENSOR_SOURCE=sim
MOTOR_OUTPUT=sim
RECEIVER_SOURCE=sim
MQTT_BROKER=
WEB_SERVER_PORT=0
TELEMETRY_INTERVAL_MS=20
SENSOR_FAULT_TICKS=3
`

func loadBench(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quad.cfg")
	if err := os.WriteFile(path, []byte(benchConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestFlight(t *testing.T) {
	Convey("A simulated flight wires the plant, pilot and telemetry", t, func() {
		f, err := NewFlight(loadBench(t))
		So(err, ShouldBeNil)
		So(f.Quad(), ShouldNotBeNil)
		So(f.Pilot(), ShouldNotBeNil)
		f.Pilot().Set(input.Pad{Start: true, R1: true})

		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()
		So(f.Run(ctx), ShouldBeNil)

		So(f.Loop().Ticks(), ShouldBeGreaterThan, 10)
		So(f.Pilot().Sent(), ShouldBeGreaterThan, 0)
		rec, ok := f.Hub().Latest()
		So(ok, ShouldBeTrue)
		So(rec.Seq, ShouldBeGreaterThan, 0)
		So(f.Quad().State().Motors, ShouldResemble, mixer.SafeIdle())
	})

	Convey("A sensor failure stops the flight with a fault", t, func() {
		f, err := NewFlight(loadBench(t))
		So(err, ShouldBeNil)
		f.Quad().FailSensor(true)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err = f.Run(ctx)
		So(errors.Is(err, fault.SensorFault), ShouldBeTrue)
		So(f.Quad().State().Motors, ShouldResemble, mixer.SafeIdle())
	})
}
