package app

import (
	"fmt"
	"image"
	"log"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/quad_controller/internal/input"
	"github.com/relabs-tech/quad_controller/internal/telemetry"
)

const (
	displayWidth  = 128
	displayHeight = 64
	lineHeight    = 13
)

// screen is the part of the SSD1306 driver the display needs.
type screen interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
}

// Display shows the latest telemetry record on a 128x64 OLED. It is a
// telemetry.Transport and is drained by its own AsyncSender.
type Display struct {
	dev screen
	bus i2c.BusCloser
}

// OpenDisplay opens the SSD1306 on the given I2C bus ("" for the default).
func OpenDisplay(busName string, addr uint16) (*Display, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("display: periph host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("display: open I2C bus %q: %w", busName, err)
	}
	opts := ssd1306.DefaultOpts
	dev, err := ssd1306.NewI2C(bus, addr, &opts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("display: init at 0x%02X: %w", addr, err)
	}
	log.Printf("display: initialized at 0x%02X", addr)

	d := &Display{dev: dev, bus: bus}
	if err := d.show(renderSplash()); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}
	return d, nil
}

// Publish draws r.
func (d *Display) Publish(r telemetry.Record) error {
	return d.show(renderRecord(r))
}

// Close blanks the screen and releases the bus.
func (d *Display) Close() error {
	if err := d.show(newFrame()); err != nil {
		log.Printf("display: error clearing: %v", err)
	}
	if d.bus == nil {
		return nil
	}
	return d.bus.Close()
}

func (d *Display) show(img *image1bit.VerticalLSB) error {
	return d.dev.Draw(d.dev.Bounds(), img, image.Point{})
}

func newFrame() *image1bit.VerticalLSB {
	return image1bit.NewVerticalLSB(image.Rect(0, 0, displayWidth, displayHeight))
}

func drawLines(img *image1bit.VerticalLSB, x int, lines ...string) {
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		drawer.Dot = fixed.P(x, lineHeight*(i+1))
		drawer.DrawString(line)
	}
}

func renderSplash() *image1bit.VerticalLSB {
	img := newFrame()
	drawLines(img, 10, "", "Quad FC", "Waiting for", "sensors...")
	return img
}

// renderRecord lays out one record in five text lines:
//
//	ARMED  rate
//	R  -12.3 P    4.0
//	Y    0.0 T 0.45
//	.50 .50 .50 .50
//	link_lost
func renderRecord(r telemetry.Record) *image1bit.VerticalLSB {
	img := newFrame()

	arm := "SAFE"
	if r.Arm == input.Armed {
		arm = "ARMED"
	}
	alt := fmt.Sprintf("T %4.2f", r.Setpoint.Throttle)
	if r.Attitude.HasAltitude {
		alt = fmt.Sprintf("A %5.1fm", r.Attitude.Altitude)
	}
	status := "ok"
	if names := r.Status.Names(); len(names) > 0 {
		status = strings.Join(names, ",")
	}

	drawLines(img, 0,
		fmt.Sprintf("%-6s %s", arm, r.Mode),
		fmt.Sprintf("R%7.1f P%7.1f", r.Attitude.Roll, r.Attitude.Pitch),
		fmt.Sprintf("Y%7.1f %s", r.Attitude.YawRate, alt),
		fmt.Sprintf("%.2f %.2f %.2f %.2f", r.Motors[0], r.Motors[1], r.Motors[2], r.Motors[3]),
		status,
	)
	return img
}
