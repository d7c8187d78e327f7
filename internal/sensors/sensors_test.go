package sensors

import (
	"errors"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	. "github.com/smartystreets/goconvey/convey"
	"periph.io/x/conn/v3/physic"

	"github.com/relabs-tech/quad_controller/internal/imu"
)

type fakeMPU struct {
	raw imu.Raw
	err error
}

func (f *fakeMPU) GetAccelerationX() (int16, error) { return f.raw.Ax, nil }
func (f *fakeMPU) GetAccelerationY() (int16, error) { return f.raw.Ay, nil }
func (f *fakeMPU) GetAccelerationZ() (int16, error) { return f.raw.Az, f.err }
func (f *fakeMPU) GetRotationX() (int16, error)     { return f.raw.Gx, nil }
func (f *fakeMPU) GetRotationY() (int16, error)     { return f.raw.Gy, nil }
func (f *fakeMPU) GetRotationZ() (int16, error)     { return f.raw.Gz, nil }

type fakeBMP struct {
	pa  []float64
	i   int
	err error
}

func (f *fakeBMP) Sense(e *physic.Env) error {
	if f.err != nil {
		return f.err
	}
	p := f.pa[f.i%len(f.pa)]
	f.i++
	e.Pressure = physic.Pressure(p * float64(physic.Pascal))
	e.Temperature = physic.ZeroCelsius + 21*physic.Kelvin
	return nil
}

func TestIMU(t *testing.T) {
	scale, err := imu.NewScale(0, 3)
	if err != nil {
		t.Fatal(err)
	}
	at := time.Unix(42, 0)

	Convey("Raw counts are scaled to g and deg/s", t, func() {
		dev := &fakeMPU{raw: imu.Raw{Az: 16384, Gx: 1638}}
		s := newIMU(dev, scale, IMUConfig{AccelRange: 0, GyroRange: 3})
		s.now = func() time.Time { return at }

		sample, err := s.ReadSensors()
		So(err, ShouldBeNil)
		So(sample.Accel.Z(), ShouldAlmostEqual, 1, 1e-9)
		So(sample.Gyro.X(), ShouldAlmostEqual, 1638*2000.0/32768, 1e-9)
		So(sample.Time.Equal(at), ShouldBeTrue)
	})

	Convey("Calibration biases are removed when the ranges match", t, func() {
		cal := &imu.Calibration{GyroBias: mgl64.Vec3{0.5, 0, 0}, AccelBias: mgl64.Vec3{0, 0, 0.02}, GyroRange: 3}
		s := newIMU(&fakeMPU{raw: imu.Raw{Az: 16384}}, scale, IMUConfig{GyroRange: 3, Calibration: cal})
		sample, err := s.ReadSensors()
		So(err, ShouldBeNil)
		So(sample.Gyro.X(), ShouldAlmostEqual, -0.5, 1e-9)
		So(sample.Accel.Z(), ShouldAlmostEqual, 0.98, 1e-9)

		Convey("and ignored when recorded at another range", func() {
			s := newIMU(&fakeMPU{raw: imu.Raw{Az: 16384}}, scale, IMUConfig{GyroRange: 2, Calibration: cal})
			sample, err := s.ReadSensors()
			So(err, ShouldBeNil)
			So(sample.Gyro.X(), ShouldEqual, 0)
		})
	})

	Convey("A bus error names the failing axis", t, func() {
		s := newIMU(&fakeMPU{err: errors.New("spi: timeout")}, scale, IMUConfig{})
		_, err := s.ReadSensors()
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "accel Z")
	})
}

func TestBaro(t *testing.T) {
	Convey("The reference is averaged at open and altitude follows pressure", t, func() {
		dev := &fakeBMP{pa: []float64{101300, 101350}}
		b, err := NewBaro(dev, 0, 2)
		So(err, ShouldBeNil)
		So(b.Reference(), ShouldAlmostEqual, 101325, 0.01)

		dev.pa = []float64{89875}
		alt, err := b.ReadAltitude()
		So(err, ShouldBeNil)
		So(alt, ShouldAlmostEqual, 1000, 1)

		s, err := b.Read()
		So(err, ShouldBeNil)
		So(s.Temperature, ShouldAlmostEqual, 21, 0.01)
	})

	Convey("A fixed reference skips the startup reads", t, func() {
		dev := &fakeBMP{err: errors.New("not ready")}
		b, err := NewBaro(dev, 100000, 5)
		So(err, ShouldBeNil)
		So(b.Reference(), ShouldEqual, 100000)
		_, err = b.ReadAltitude()
		So(err, ShouldNotBeNil)
	})

	Convey("A sensor that never answers fails at open", t, func() {
		_, err := NewBaro(&fakeBMP{err: errors.New("not ready")}, 0, 3)
		So(err, ShouldNotBeNil)
	})
}
