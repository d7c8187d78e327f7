package env

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestAltitude(t *testing.T) {
	Convey("Altitude follows the barometric formula", t, func() {
		So(Sample{Pressure: StandardSeaLevelPa}.Altitude(StandardSeaLevelPa), ShouldAlmostEqual, 0, 1e-9)
		// ~1 km standard atmosphere
		So(Sample{Pressure: 89875}.Altitude(StandardSeaLevelPa), ShouldAlmostEqual, 1000, 5)
		So(Sample{Pressure: 100000}.Altitude(StandardSeaLevelPa), ShouldBeGreaterThan, 0)
	})

	Convey("Invalid pressures give zero", t, func() {
		So(Sample{}.Altitude(StandardSeaLevelPa), ShouldEqual, 0)
		So(Sample{Pressure: 1000}.Altitude(0), ShouldEqual, 0)
	})
}
