package input

import "fmt"

// ArmState gates motor output.
type ArmState int

const (
	Disarmed ArmState = iota
	Armed
)

func (a ArmState) String() string {
	if a == Armed {
		return "armed"
	}
	return "disarmed"
}

func (a ArmState) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *ArmState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "armed":
		*a = Armed
	case "disarmed":
		*a = Disarmed
	default:
		return fmt.Errorf("unknown arm state %q", b)
	}
	return nil
}

// FlightMode selects how the mixer treats the throttle stick.
type FlightMode int

const (
	// Rate: sticks command body rates, throttle is passed through.
	Rate FlightMode = iota
	// AltitudeHold: throttle stick commands climb rate around the hover throttle.
	AltitudeHold
)

func (m FlightMode) String() string {
	if m == AltitudeHold {
		return "altitude_hold"
	}
	return "rate"
}

func (m FlightMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *FlightMode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "rate":
		*m = Rate
	case "altitude_hold":
		*m = AltitudeHold
	default:
		return fmt.Errorf("unknown flight mode %q", b)
	}
	return nil
}

// Setpoint is the pilot command for one tick. Rates are deg/s, throttle is [0,1].
// Climb is the vertical stick in [-1,1], used as the climb-rate demand in
// AltitudeHold.
type Setpoint struct {
	RollRate  float64    `json:"roll_rate"`
	PitchRate float64    `json:"pitch_rate"`
	YawRate   float64    `json:"yaw_rate"`
	Throttle  float64    `json:"throttle"`
	Climb     float64    `json:"climb"`
	Arm       ArmState   `json:"arm"`
	Mode      FlightMode `json:"mode"`
}

// MinThrottle is the lowest commandable throttle.
const MinThrottle = 0.0

// FailSafe is the setpoint adopted on link loss: zero rates, minimum throttle, disarmed.
func FailSafe(mode FlightMode) Setpoint {
	return Setpoint{Throttle: MinThrottle, Arm: Disarmed, Mode: mode}
}
