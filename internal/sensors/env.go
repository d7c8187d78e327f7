package sensors

import (
	"fmt"
	"log"
	"time"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/quad_controller/internal/env"
)

// BaroConfig selects the BMP280 bus and the altitude reference.
type BaroConfig struct {
	SPIDevice string
	// ReferencePa is the pressure at zero altitude. When 0 it is averaged
	// from ReferenceSamples readings at open.
	ReferencePa      float64
	ReferenceSamples int
}

type senser interface {
	Sense(*physic.Env) error
}

// Baro converts BMP280 pressure into altitude above a reference.
type Baro struct {
	dev       senser
	reference float64
	now       func() time.Time
}

// OpenBaro initializes the BMP280 over SPI.
func OpenBaro(cfg BaroConfig) (*Baro, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("baro: periph host init: %w", err)
	}
	bus, err := spireg.Open(cfg.SPIDevice)
	if err != nil {
		return nil, fmt.Errorf("baro: SPI open %s: %w", cfg.SPIDevice, err)
	}
	dev, err := bmxx80.NewSPI(bus, &bmxx80.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("baro: init: %w", err)
	}
	return NewBaro(dev, cfg.ReferencePa, cfg.ReferenceSamples)
}

// NewBaro wraps a pressure sensor. A zero reference is measured now.
func NewBaro(dev senser, referencePa float64, samples int) (*Baro, error) {
	b := &Baro{dev: dev, reference: referencePa, now: time.Now}
	if referencePa > 0 {
		return b, nil
	}
	if samples < 1 {
		samples = 1
	}
	sum := 0.0
	for i := 0; i < samples; i++ {
		s, err := b.Read()
		if err != nil {
			return nil, fmt.Errorf("baro: reference: %w", err)
		}
		sum += s.Pressure
	}
	b.reference = sum / float64(samples)
	log.Printf("baro: reference pressure %.1f Pa", b.reference)
	return b, nil
}

// Reference returns the zero-altitude pressure in Pa.
func (b *Baro) Reference() float64 { return b.reference }

// Read returns temperature and pressure.
func (b *Baro) Read() (env.Sample, error) {
	var e physic.Env
	if err := b.dev.Sense(&e); err != nil {
		return env.Sample{}, fmt.Errorf("baro sense: %w", err)
	}
	return env.Sample{
		Temperature: e.Temperature.Celsius(),
		Pressure:    float64(e.Pressure) / float64(physic.Pascal),
		Time:        b.now(),
	}, nil
}

// ReadAltitude returns metres above the reference.
func (b *Baro) ReadAltitude() (float64, error) {
	s, err := b.Read()
	if err != nil {
		return 0, err
	}
	return s.Altitude(b.reference), nil
}
