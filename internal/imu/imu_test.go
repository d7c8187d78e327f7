package imu

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	. "github.com/smartystreets/goconvey/convey"
)

func TestScale(t *testing.T) {
	Convey("Given the ±2g / ±250°/s ranges", t, func() {
		s, err := NewScale(0, 0)
		So(err, ShouldBeNil)

		Convey("full-scale counts map to the range limits", func() {
			smp := s.Convert(Raw{Az: 16384, Gx: -32768}, Calibration{}, time.Time{})
			So(smp.Accel.Z(), ShouldAlmostEqual, 1.0, 1e-9)
			So(smp.Gyro.X(), ShouldAlmostEqual, -250.0, 1e-9)
			So(s.GyroLimit(), ShouldAlmostEqual, 250.0, 1e-9)
		})

		Convey("biases are subtracted", func() {
			cal := Calibration{GyroBias: mgl64.Vec3{1, 0, 0}, AccelBias: mgl64.Vec3{0, 0, 0.5}}
			smp := s.Convert(Raw{Az: 16384}, cal, time.Time{})
			So(smp.Gyro.X(), ShouldAlmostEqual, -1.0, 1e-9)
			So(smp.Accel.Z(), ShouldAlmostEqual, 0.5, 1e-9)
		})
	})

	Convey("Out-of-range codes are rejected", t, func() {
		_, err := NewScale(4, 0)
		So(err, ShouldNotBeNil)
		_, err = NewScale(0, 9)
		So(err, ShouldNotBeNil)
	})
}

func TestCalibration(t *testing.T) {
	Convey("Stats track mean and variance", t, func() {
		var s Stats
		for _, v := range []float64{1, 2, 3, 4} {
			s.Add(mgl64.Vec3{v, 0, -v})
		}
		So(s.N, ShouldEqual, 4)
		So(s.Mean.X(), ShouldAlmostEqual, 2.5, 1e-12)
		So(s.Variance().X(), ShouldAlmostEqual, 5.0/3.0, 1e-12)
		So(s.Variance().Y(), ShouldEqual, 0)
	})

	Convey("A calibration derived at rest keeps gravity on Z and survives a save/load", t, func() {
		var g, a Stats
		for i := 0; i < 10; i++ {
			g.Add(mgl64.Vec3{0.5, -0.25, 0.1})
			a.Add(mgl64.Vec3{0.01, -0.02, 1.03})
		}
		cal := FromStats(&g, &a, 1, 2, 0.9)
		So(cal.AccelBias.Z(), ShouldAlmostEqual, 0.03, 1e-9)
		So(cal.GyroBias.X(), ShouldAlmostEqual, 0.5, 1e-12)

		path := filepath.Join(t.TempDir(), "cal.json")
		So(cal.Save(path), ShouldBeNil)
		got, err := LoadCalibration(path)
		So(err, ShouldBeNil)
		So(got.GyroBias, ShouldResemble, cal.GyroBias)
		So(got.GyroRange, ShouldEqual, 2)
	})

	Convey("A missing file is an error", t, func() {
		_, err := LoadCalibration(filepath.Join(t.TempDir(), "absent.json"))
		So(err, ShouldNotBeNil)
	})
}
