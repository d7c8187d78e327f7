// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"log"
	"time"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/quad_controller/internal/imu"
)

// IMUConfig selects the MPU9250 wiring and ranges.
type IMUConfig struct {
	SPIDevice  string
	CSPin      string
	AccelRange byte // 0-3: ±2/4/8/16 g
	GyroRange  byte // 0-3: ±250/500/1000/2000 °/s
	SelfTest   bool

	// Calibration biases are subtracted from every sample. They are ignored
	// when recorded at different ranges.
	Calibration *imu.Calibration
}

// axisReader is the subset of the MPU9250 driver used per sample.
type axisReader interface {
	GetAccelerationX() (int16, error)
	GetAccelerationY() (int16, error)
	GetAccelerationZ() (int16, error)
	GetRotationX() (int16, error)
	GetRotationY() (int16, error)
	GetRotationZ() (int16, error)
}

// IMU reads calibrated samples from one MPU9250 over SPI.
type IMU struct {
	dev   axisReader
	scale imu.Scale
	cal   imu.Calibration
	now   func() time.Time
}

// OpenIMU initializes the MPU9250 and applies the configured ranges.
func OpenIMU(cfg IMUConfig) (*IMU, error) {
	scale, err := imu.NewScale(cfg.AccelRange, cfg.GyroRange)
	if err != nil {
		return nil, fmt.Errorf("IMU: %w", err)
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("IMU: periph host init: %w", err)
	}

	cs := gpioreg.ByName(cfg.CSPin)
	if cs == nil {
		return nil, fmt.Errorf("IMU: CS pin %q not found", cfg.CSPin)
	}
	tr, err := mpu9250.NewSpiTransport(cfg.SPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("IMU: SPI transport (%s): %w", cfg.SPIDevice, err)
	}
	dev, err := mpu9250.New(tr)
	if err != nil {
		return nil, fmt.Errorf("IMU: device creation: %w", err)
	}
	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("IMU: initialization: %w", err)
	}

	if err := dev.SetAccelRange(cfg.AccelRange); err != nil {
		return nil, fmt.Errorf("IMU: set accel range: %w", err)
	}
	if err := dev.SetGyroRange(cfg.GyroRange); err != nil {
		return nil, fmt.Errorf("IMU: set gyro range: %w", err)
	}
	log.Printf("IMU: ranges set, accel ±%.0fg, gyro ±%.0f°/s",
		scale.AccelPerCount*32768, scale.GyroLimit())

	if cfg.SelfTest {
		res, err := dev.SelfTest()
		if err != nil {
			log.Printf("IMU: WARNING: self-test failed: %v", err)
		} else {
			log.Printf("IMU: self-test accel deviation X: %.2f%%, Y: %.2f%%, Z: %.2f%%",
				res.AccelDeviation.X, res.AccelDeviation.Y, res.AccelDeviation.Z)
			log.Printf("IMU: self-test gyro deviation X: %.2f%%, Y: %.2f%%, Z: %.2f%%",
				res.GyroDeviation.X, res.GyroDeviation.Y, res.GyroDeviation.Z)
		}
	}

	// on-chip offset registers; file biases below are applied on top
	if err := dev.Calibrate(); err != nil {
		log.Printf("IMU: WARNING: on-chip calibration failed: %v", err)
	}

	return newIMU(dev, scale, cfg), nil
}

func newIMU(dev axisReader, scale imu.Scale, cfg IMUConfig) *IMU {
	s := &IMU{dev: dev, scale: scale, now: time.Now}
	if c := cfg.Calibration; c != nil {
		if c.AccelRange != cfg.AccelRange || c.GyroRange != cfg.GyroRange {
			log.Printf("IMU: WARNING: calibration recorded at ranges %d/%d, running %d/%d; biases ignored",
				c.AccelRange, c.GyroRange, cfg.AccelRange, cfg.GyroRange)
		} else {
			s.cal = *c
			log.Printf("IMU: calibration from %s applied (gyro bias %.3f %.3f %.3f °/s)",
				c.Timestamp.Format(time.RFC3339), c.GyroBias.X(), c.GyroBias.Y(), c.GyroBias.Z())
		}
	}
	return s
}

// Scale returns the count conversion in use.
func (s *IMU) Scale() imu.Scale { return s.scale }

// ReadRaw reads the six axes in sensor counts.
func (s *IMU) ReadRaw() (imu.Raw, error) {
	var r imu.Raw
	for _, ax := range []struct {
		name string
		dst  *int16
		read func() (int16, error)
	}{
		{"accel X", &r.Ax, s.dev.GetAccelerationX},
		{"accel Y", &r.Ay, s.dev.GetAccelerationY},
		{"accel Z", &r.Az, s.dev.GetAccelerationZ},
		{"gyro X", &r.Gx, s.dev.GetRotationX},
		{"gyro Y", &r.Gy, s.dev.GetRotationY},
		{"gyro Z", &r.Gz, s.dev.GetRotationZ},
	} {
		v, err := ax.read()
		if err != nil {
			return imu.Raw{}, fmt.Errorf("IMU %s: %w", ax.name, err)
		}
		*ax.dst = v
	}
	return r, nil
}

// ReadSensors returns a calibrated sample in deg/s and g.
func (s *IMU) ReadSensors() (imu.Sample, error) {
	r, err := s.ReadRaw()
	if err != nil {
		return imu.Sample{}, err
	}
	return s.scale.Convert(r, s.cal, s.now()), nil
}
