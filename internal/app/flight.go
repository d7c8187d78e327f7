// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/quad_controller/internal/config"
	"github.com/relabs-tech/quad_controller/internal/control"
	"github.com/relabs-tech/quad_controller/internal/imu"
	"github.com/relabs-tech/quad_controller/internal/input"
	"github.com/relabs-tech/quad_controller/internal/mixer"
	"github.com/relabs-tech/quad_controller/internal/motors"
	"github.com/relabs-tech/quad_controller/internal/orientation"
	"github.com/relabs-tech/quad_controller/internal/receiver"
	"github.com/relabs-tech/quad_controller/internal/sensors"
	"github.com/relabs-tech/quad_controller/internal/sim"
	"github.com/relabs-tech/quad_controller/internal/telemetry"
)

// pilotEvery is how many loop ticks pass between packets of the simulated
// pilot radio.
const pilotEvery = 4

// Flight is a fully wired flight controller: hardware or simulated
// collaborators, the control loop and the telemetry fan-out.
type Flight struct {
	cfg  *config.Config
	loop *control.Loop

	decoder  *input.Decoder
	reporter *telemetry.Reporter
	hub      *telemetry.Hub
	async    []*telemetry.AsyncSender

	quad  *sim.Quad
	pilot *sim.Pilot

	serialRx *receiver.SerialSource
	mqtt     mqtt.Client
	closers  []io.Closer
}

// motorTee drives several motor outputs with the same command.
type motorTee []control.MotorWriter

func (t motorTee) WriteMotors(cmd mixer.MotorCommand) error {
	var errs []error
	for _, w := range t {
		if err := w.WriteMotors(cmd); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewFlight opens every collaborator the configuration names. On error
// whatever was already opened is released.
func NewFlight(cfg *config.Config) (_ *Flight, err error) {
	f := &Flight{cfg: cfg, hub: telemetry.NewHub()}
	defer func() {
		if err != nil {
			f.Close()
		}
	}()

	ec, err := cfg.EstimatorConfig()
	if err != nil {
		return nil, err
	}
	mc, err := cfg.MixerConfig()
	if err != nil {
		return nil, err
	}
	est, err := orientation.NewEstimator(ec)
	if err != nil {
		return nil, err
	}
	f.decoder, err = input.NewDecoder(cfg.DecoderConfig())
	if err != nil {
		return nil, err
	}
	mix, err := mixer.New(mc)
	if err != nil {
		return nil, err
	}

	deps := control.Deps{Estimator: est, Decoder: f.decoder, Mixer: mix}
	if err := f.openSensors(&deps, mc.Layout); err != nil {
		return nil, err
	}
	if err := f.openMotors(&deps); err != nil {
		return nil, err
	}
	if err := f.connectMQTT(); err != nil {
		return nil, err
	}
	if err := f.openReceiver(&deps); err != nil {
		return nil, err
	}
	senders, err := f.openTelemetry()
	if err != nil {
		return nil, err
	}
	f.reporter = telemetry.NewReporter(cfg.TelemetryInterval(), senders)
	deps.Reporter = f.reporter

	f.loop, err = control.New(cfg.LoopConfig(), deps)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Flight) simQuad(layout mixer.Layout) *sim.Quad {
	if f.quad == nil {
		sc := sim.DefaultConfig()
		sc.Layout = layout
		sc.Step = f.cfg.LoopConfig().Period
		sc.HoverDuty = f.cfg.HoverThrottle
		sc.GyroNoise = 0.2
		sc.AccelNoise = 0.005
		sc.BaroNoise = 0.05
		f.quad = sim.NewQuad(sc)
		log.Printf("flight: simulated %s airframe, step %v", layout.Name, sc.Step)
	}
	return f.quad
}

func (f *Flight) openSensors(d *control.Deps, layout mixer.Layout) error {
	cfg := f.cfg
	if cfg.SensorSource == "sim" {
		q := f.simQuad(layout)
		d.Sensors = q
		if cfg.BaroEvery > 0 {
			d.Baro = q
		}
		return nil
	}

	ic := sensors.IMUConfig{
		SPIDevice:  cfg.IMUSPIDevice,
		CSPin:      cfg.IMUCSPin,
		AccelRange: cfg.IMUAccelRange,
		GyroRange:  cfg.IMUGyroRange,
		SelfTest:   cfg.IMUSelfTest,
	}
	if cfg.IMUCalibrationFile != "" {
		cal, err := imu.LoadCalibration(cfg.IMUCalibrationFile)
		if err != nil {
			log.Printf("flight: no IMU calibration, flying on raw biases: %v", err)
		} else {
			ic.Calibration = &cal
		}
	}
	m, err := sensors.OpenIMU(ic)
	if err != nil {
		return err
	}
	d.Sensors = m

	if cfg.BaroSPIDevice != "" && cfg.BaroEvery > 0 {
		b, err := sensors.OpenBaro(sensors.BaroConfig{
			SPIDevice:        cfg.BaroSPIDevice,
			ReferencePa:      cfg.BaroReferencePa,
			ReferenceSamples: 20,
		})
		if err != nil {
			return err
		}
		d.Baro = b
	}
	return nil
}

func (f *Flight) openMotors(d *control.Deps) error {
	cfg := f.cfg
	var out motorTee
	if f.quad != nil {
		out = append(out, f.quad)
	}
	switch cfg.MotorOutput {
	case "pca9685":
		e, err := motors.Open(motors.Config{
			I2CBus:          cfg.MotorI2CBus,
			Addr:            cfg.MotorI2CAddr,
			Channels:        cfg.MotorChannels,
			FreqHz:          cfg.MotorPWMFreqHz,
			PulseMinUS:      cfg.MotorPulseMinUS,
			PulseMaxUS:      cfg.MotorPulseMaxUS,
			DutyMax:         cfg.DutyMax,
			Calibrate:       cfg.MotorESCCalibrate,
			CalibrationHold: motors.DefaultConfig().CalibrationHold,
		})
		if err != nil {
			return err
		}
		f.closers = append(f.closers, e)
		out = append(out, e)
	case "sim":
		if f.quad == nil {
			// real sensors with no ESCs: a dry run against a plant nobody reads
			out = append(out, f.simQuad(mixer.QuadX))
		}
	}
	if len(out) == 1 {
		d.Motors = out[0]
	} else {
		d.Motors = out
	}
	return nil
}

func (f *Flight) connectMQTT() error {
	cfg := f.cfg
	wantRx := cfg.ReceiverSource == "mqtt"
	wantTx := cfg.MQTTBroker != "" && cfg.TopicTelemetry != ""
	if !wantRx && !wantTx {
		return nil
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("flight: MQTT connect %s: %w", cfg.MQTTBroker, token.Error())
	}
	log.Printf("flight: connected to MQTT broker at %s", cfg.MQTTBroker)
	f.mqtt = client
	return nil
}

func (f *Flight) openReceiver(d *control.Deps) error {
	cfg := f.cfg
	switch cfg.ReceiverSource {
	case "sim":
		f.pilot = sim.NewPilot(pilotEvery)
		d.Receiver = f.pilot
	case "mqtt":
		src, err := receiver.SubscribeMQTT(f.mqtt, cfg.TopicPilot)
		if err != nil {
			return err
		}
		f.closers = append(f.closers, src)
		d.Receiver = src
	case "serial":
		port, err := receiver.OpenSerial(cfg.ReceiverSerialPort, cfg.ReceiverBaudRate)
		if err != nil {
			return err
		}
		f.closers = append(f.closers, port)
		f.serialRx = receiver.NewSerialSource(port)
		d.Receiver = f.serialRx
		if cfg.TelemetrySerialPort == cfg.ReceiverSerialPort {
			// half of a radio modem pair: telemetry goes back on the same port
			return f.addSerialTelemetry(port)
		}
	}
	return nil
}

func (f *Flight) addSerialTelemetry(w io.Writer) error {
	t, err := telemetry.NewSerialTransport(w, telemetry.Encoding(f.cfg.TelemetryEncoding))
	if err != nil {
		return err
	}
	f.async = append(f.async, telemetry.NewAsyncSender("serial", t, 8))
	return nil
}

func (f *Flight) openTelemetry() (telemetry.Sender, error) {
	cfg := f.cfg
	if f.mqtt != nil && cfg.TopicTelemetry != "" {
		f.async = append(f.async, telemetry.NewAsyncSender("mqtt", telemetry.NewMQTTTransport(f.mqtt, cfg.TopicTelemetry), 16))
	}
	if cfg.TelemetrySerialPort != "" && !(cfg.ReceiverSource == "serial" && cfg.TelemetrySerialPort == cfg.ReceiverSerialPort) {
		port, err := telemetry.OpenSerialPort(cfg.TelemetrySerialPort, cfg.TelemetryBaudRate)
		if err != nil {
			return nil, err
		}
		f.closers = append(f.closers, port)
		if err := f.addSerialTelemetry(port); err != nil {
			return nil, err
		}
	}
	if cfg.DisplayI2CAddr != 0 {
		disp, err := OpenDisplay(cfg.DisplayI2CBus, cfg.DisplayI2CAddr)
		if err != nil {
			log.Printf("flight: display disabled: %v", err)
		} else {
			f.closers = append(f.closers, disp)
			f.async = append(f.async, telemetry.NewAsyncSender("display", disp, 1))
		}
	}

	senders := telemetry.Fanout{f.hub}
	for _, a := range f.async {
		senders = append(senders, a)
	}
	return senders, nil
}

// Hub is the in-process record stream behind the status server.
func (f *Flight) Hub() *telemetry.Hub { return f.hub }

// Pilot is the simulated hand controller, or nil on real radio.
func (f *Flight) Pilot() *sim.Pilot { return f.pilot }

// Quad is the simulated airframe, or nil on real sensors.
func (f *Flight) Quad() *sim.Quad { return f.quad }

// Loop returns the control loop.
func (f *Flight) Loop() *control.Loop { return f.loop }

// Run flies until ctx is done or a fatal fault stops the loop, then releases
// every collaborator. Motors are left at safe idle either way.
func (f *Flight) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, a := range f.async {
		a.Start(ctx)
	}

	var wg sync.WaitGroup
	if f.serialRx != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.serialRx.Run(ctx); err != nil {
				log.Printf("flight: %v", err)
			}
		}()
	}
	if f.cfg.WebServerPort > 0 {
		srv := NewStatusServer(f.hub, f.pilot)
		wg.Add(1)
		go func() {
			defer wg.Done()
			addr := fmt.Sprintf(":%d", f.cfg.WebServerPort)
			if err := Serve(ctx, addr, srv.Router(f.cfg.WebStaticDir)); err != nil {
				log.Printf("flight: %v", err)
			}
		}()
	}

	log.Printf("flight: control loop at %v", f.cfg.LoopConfig().Period)
	err := f.loop.Run(ctx)

	cancel()
	for _, a := range f.async {
		a.Wait()
	}
	f.Close()
	wg.Wait()

	sent, dropped := f.reporter.Counters()
	st := f.decoder.Stats()
	log.Printf("flight: stopped after %d ticks; telemetry sent %d dropped %d; packets %d malformed %d link losses %d",
		f.loop.Ticks(), sent, dropped, st.Packets, st.Malformed, st.LinkLosses)
	return err
}

// Close releases ports, buses and the MQTT connection. Run calls it on exit.
func (f *Flight) Close() {
	for i := len(f.closers) - 1; i >= 0; i-- {
		if err := f.closers[i].Close(); err != nil {
			log.Printf("flight: close: %v", err)
		}
	}
	f.closers = nil
	if f.mqtt != nil {
		f.mqtt.Disconnect(250)
		f.mqtt = nil
	}
}

// RunFlightController builds the controller from cfg and flies it until ctx
// is done.
func RunFlightController(ctx context.Context, cfg *config.Config) error {
	f, err := NewFlight(cfg)
	if err != nil {
		return err
	}
	return f.Run(ctx)
}
