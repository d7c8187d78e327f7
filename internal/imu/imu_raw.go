package imu

import (
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// Raw is a single raw accelerometer+gyroscope sample in sensor counts.
type Raw struct {
	Ax int16 `json:"ax"` // accel
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`

	Gx int16 `json:"gx"` // gyro
	Gy int16 `json:"gy"`
	Gz int16 `json:"gz"`
}

// Sample is an inertial sample in physical units: gyro in deg/s, accel in g.
type Sample struct {
	Gyro  mgl64.Vec3 `json:"gyro"`
	Accel mgl64.Vec3 `json:"accel"`
	Time  time.Time  `json:"time"`
}

// Full-scale ranges selectable on the MPU9250, indexed by the range code (0-3).
var (
	accelFullScaleG    = [4]float64{2, 4, 8, 16}
	gyroFullScaleDPS   = [4]float64{250, 500, 1000, 2000}
	countsPerFullScale = 32768.0
)

// Scale converts raw counts into physical units for a given range pair.
type Scale struct {
	AccelPerCount float64 // g per LSB
	GyroPerCount  float64 // deg/s per LSB
}

// NewScale builds a Scale from the accel and gyro range codes (0-3).
func NewScale(accelRange, gyroRange byte) (Scale, error) {
	if accelRange > 3 {
		return Scale{}, fmt.Errorf("accel range must be 0-3, got %d", accelRange)
	}
	if gyroRange > 3 {
		return Scale{}, fmt.Errorf("gyro range must be 0-3, got %d", gyroRange)
	}
	return Scale{
		AccelPerCount: accelFullScaleG[accelRange] / countsPerFullScale,
		GyroPerCount:  gyroFullScaleDPS[gyroRange] / countsPerFullScale,
	}, nil
}

// GyroLimit is the full-scale gyro rate in deg/s.
func (s Scale) GyroLimit() float64 { return s.GyroPerCount * countsPerFullScale }

// Convert scales r and subtracts the calibration biases.
func (s Scale) Convert(r Raw, cal Calibration, t time.Time) Sample {
	gyro := mgl64.Vec3{float64(r.Gx), float64(r.Gy), float64(r.Gz)}.Mul(s.GyroPerCount)
	accel := mgl64.Vec3{float64(r.Ax), float64(r.Ay), float64(r.Az)}.Mul(s.AccelPerCount)
	return Sample{
		Gyro:  gyro.Sub(cal.GyroBias),
		Accel: accel.Sub(cal.AccelBias),
		Time:  t,
	}
}
