// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/calibration/main.go
//
// Static bench calibration for the flight IMU. With the frame level and
// untouched it captures gyro and accel statistics and writes the biases to
// the calibration file named in the config (IMU_CALIBRATION_FILE).
//
// Run:
//
//	sudo ./calibration -config quad_config.txt
//
// The biases are stored in physical units together with the ranges they were
// captured at; the flight controller ignores a file recorded at other ranges.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/relabs-tech/quad_controller/internal/config"
	"github.com/relabs-tech/quad_controller/internal/imu"
	"github.com/relabs-tech/quad_controller/internal/sensors"
)

const (
	sampleHz = 200

	// Stillness heuristics in raw counts
	stillStdGood = 3.0
	stillStdBad  = 12.0
	confFloor    = 0.05
)

func main() {
	in := bufio.NewReader(os.Stdin)

	configPath := flag.String("config", "quad_config.txt", "Path to configuration file")
	duration := flag.Duration("duration", 10*time.Second, "Capture duration")
	out := flag.String("out", "", "Output file (default: IMU_CALIBRATION_FILE from the config)")
	flag.Parse()

	fmt.Println("=== Static IMU calibration (gyro + accel bias) ===")
	fmt.Println()

	if err := config.InitGlobal(*configPath); err != nil {
		fatal(fmt.Errorf("failed to load config from %s: %w", *configPath, err))
	}
	cfg := config.Get()

	path := *out
	if path == "" {
		path = cfg.IMUCalibrationFile
	}
	if path == "" {
		fatal(fmt.Errorf("no output file: set IMU_CALIBRATION_FILE or pass -out"))
	}

	dev, err := sensors.OpenIMU(sensors.IMUConfig{
		SPIDevice:  cfg.IMUSPIDevice,
		CSPin:      cfg.IMUCSPin,
		AccelRange: cfg.IMUAccelRange,
		GyroRange:  cfg.IMUGyroRange,
	})
	if err != nil {
		fatal(err)
	}

	fmt.Println("Place the frame level on a stable surface, propellers off, and do not touch it.")
	waitEnter(in, fmt.Sprintf("Press ENTER to start the capture (%v)...", *duration))

	var gyro, accel imu.Stats
	tick := time.NewTicker(time.Second / sampleHz)
	defer tick.Stop()
	deadline := time.Now().Add(*duration)
	failed := 0
	for now := range tick.C {
		if now.After(deadline) {
			break
		}
		s, err := dev.ReadSensors()
		if err != nil {
			failed++
			continue
		}
		gyro.Add(s.Gyro)
		accel.Add(s.Accel)
	}
	if gyro.N < sampleHz {
		fatal(fmt.Errorf("only %d samples captured (%d read errors)", gyro.N, failed))
	}

	scale := dev.Scale()
	v := gyro.Variance()
	stdCounts := (sqrt(v[0]) + sqrt(v[1]) + sqrt(v[2])) / 3 / scale.GyroPerCount
	stillness := stillnessConfidence(stdCounts)

	cal := imu.FromStats(&gyro, &accel, cfg.IMUAccelRange, cfg.IMUGyroRange, stillness)
	fmt.Printf("\nSamples:    %d (%d read errors)\n", gyro.N, failed)
	fmt.Printf("Gyro bias:  %+.3f %+.3f %+.3f deg/s\n", cal.GyroBias[0], cal.GyroBias[1], cal.GyroBias[2])
	fmt.Printf("Accel bias: %+.4f %+.4f %+.4f g\n", cal.AccelBias[0], cal.AccelBias[1], cal.AccelBias[2])
	fmt.Printf("Stillness:  %.2f (gyro std %.1f counts)\n", stillness, stdCounts)
	if stillness < 0.5 {
		fmt.Println("WARNING: the frame moved during capture; consider repeating.")
	}

	if err := cal.Save(path); err != nil {
		fatal(err)
	}
	fmt.Printf("\nSaved calibration to %s\n", path)
}

func stillnessConfidence(std float64) float64 {
	switch {
	case std <= stillStdGood:
		return 1.0
	case std >= stillStdBad:
		return confFloor
	default:
		t := (std - stillStdGood) / (stillStdBad - stillStdGood)
		return 1.0 - 0.95*t
	}
}

func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	return math.Sqrt(x)
}

func waitEnter(in *bufio.Reader, prompt string) {
	fmt.Print(prompt)
	_, _ = in.ReadString('\n')
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	os.Exit(1)
}
