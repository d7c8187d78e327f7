package app

import (
	"image"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/quad_controller/internal/input"
	"github.com/relabs-tech/quad_controller/internal/mixer"
	"github.com/relabs-tech/quad_controller/internal/orientation"
	"github.com/relabs-tech/quad_controller/internal/telemetry"
)

type fakeScreen struct {
	frames []image.Image
}

func (s *fakeScreen) Bounds() image.Rectangle { return image.Rect(0, 0, displayWidth, displayHeight) }

func (s *fakeScreen) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	s.frames = append(s.frames, src)
	return nil
}

func litPixels(img *image1bit.VerticalLSB) int {
	n := 0
	for _, b := range img.Pix {
		for ; b != 0; b &= b - 1 {
			n++
		}
	}
	return n
}

func TestRenderRecord(t *testing.T) {
	Convey("Records render as text on a blank frame", t, func() {
		idle := renderRecord(telemetry.Record{})
		So(idle.Bounds(), ShouldResemble, image.Rect(0, 0, displayWidth, displayHeight))
		So(litPixels(idle), ShouldBeGreaterThan, 0)

		flying := renderRecord(telemetry.Record{
			Arm:      input.Armed,
			Mode:     input.AltitudeHold,
			Attitude: orientation.State{Roll: -12.5, Pitch: 3, Altitude: 2.5, HasAltitude: true},
			Motors:   mixer.MotorCommand{0.5, 0.52, 0.48, 0.5},
			Status:   telemetry.StatusSaturated,
		})
		So(flying.Pix, ShouldNotResemble, idle.Pix)

		Convey("and the splash differs from both", func() {
			So(renderSplash().Pix, ShouldNotResemble, idle.Pix)
		})
	})

	Convey("Publish draws one full frame per record", t, func() {
		scr := &fakeScreen{}
		d := &Display{dev: scr}
		So(d.Publish(telemetry.Record{Seq: 1}), ShouldBeNil)
		So(d.Publish(telemetry.Record{Seq: 2}), ShouldBeNil)
		So(len(scr.frames), ShouldEqual, 2)

		So(d.Close(), ShouldBeNil)
		So(len(scr.frames), ShouldEqual, 3)
		So(litPixels(scr.frames[2].(*image1bit.VerticalLSB)), ShouldEqual, 0)
	})
}
