// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/quad_controller/internal/app"
	"github.com/relabs-tech/quad_controller/internal/config"
)

func main() {
	configPath := flag.String("config", "./quad_config.txt", "path to configuration file")
	simulated := flag.Bool("sim", false, "fly the simulated airframe and pilot instead of hardware")
	flag.Parse()

	log.Println("starting quad flight controller")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()
	if *simulated {
		cfg.SensorSource = "sim"
		cfg.MotorOutput = "sim"
		cfg.ReceiverSource = "sim"
		log.Println("simulator mode: pilot input on POST /api/pilot")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunFlightController(ctx, cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
	log.Println("flight controller stopped, motors at idle")
}
