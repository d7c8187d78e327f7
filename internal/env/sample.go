package env

import (
	"math"
	"time"
)

// StandardSeaLevelPa is the ISA sea-level pressure.
const StandardSeaLevelPa = 101325.0

// Sample represents a single barometric measurement (BMP280).
type Sample struct {
	Temperature float64   `json:"temp_c"`      // °C
	Pressure    float64   `json:"pressure_pa"` // Pa
	Time        time.Time `json:"time"`
}

// Altitude converts the pressure to metres above the reference pressure using
// the international barometric formula.
func (s Sample) Altitude(referencePa float64) float64 {
	if referencePa <= 0 || s.Pressure <= 0 {
		return 0
	}
	return 44330.0 * (1 - math.Pow(s.Pressure/referencePa, 1/5.255))
}
