// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// Calibration holds the static biases measured by the calibration tool.
// GyroBias is in deg/s, AccelBias in g (gravity already removed from the level axis).
type Calibration struct {
	Timestamp  time.Time  `json:"timestamp"`
	GyroBias   mgl64.Vec3 `json:"gyro_bias_dps"`
	AccelBias  mgl64.Vec3 `json:"accel_bias_g"`
	AccelRange byte       `json:"accel_range"`
	GyroRange  byte       `json:"gyro_range"`
	Samples    int        `json:"samples"`
	Stillness  float64    `json:"stillness"` // 0..1 confidence that the board was at rest
}

// LoadCalibration reads a calibration file written by the calibration tool.
func LoadCalibration(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Calibration{}, fmt.Errorf("read calibration %s: %w", path, err)
	}
	var c Calibration
	if err := json.Unmarshal(data, &c); err != nil {
		return Calibration{}, fmt.Errorf("parse calibration %s: %w", path, err)
	}
	return c, nil
}

// Save writes the calibration as indented JSON.
func (c Calibration) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal calibration: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write calibration %s: %w", path, err)
	}
	return nil
}

// Stats accumulates mean and variance of a vector stream (Welford).
type Stats struct {
	N    int
	Mean mgl64.Vec3
	m2   mgl64.Vec3
}

// Add folds one vector into the running statistics.
func (s *Stats) Add(v mgl64.Vec3) {
	s.N++
	delta := v.Sub(s.Mean)
	s.Mean = s.Mean.Add(delta.Mul(1 / float64(s.N)))
	delta2 := v.Sub(s.Mean)
	for i := 0; i < 3; i++ {
		s.m2[i] += delta[i] * delta2[i]
	}
}

// Variance returns the per-axis sample variance.
func (s *Stats) Variance() mgl64.Vec3 {
	if s.N < 2 {
		return mgl64.Vec3{}
	}
	return s.m2.Mul(1 / float64(s.N-1))
}

// FromStats derives biases from gyro and accel statistics captured at rest and level.
// The accel bias keeps +1 g on Z.
func FromStats(gyro, accel *Stats, accelRange, gyroRange byte, stillness float64) Calibration {
	return Calibration{
		Timestamp:  time.Now(),
		GyroBias:   gyro.Mean,
		AccelBias:  accel.Mean.Sub(mgl64.Vec3{0, 0, 1}),
		AccelRange: accelRange,
		GyroRange:  gyroRange,
		Samples:    gyro.N,
		Stillness:  stillness,
	}
}
