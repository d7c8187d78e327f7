// Package control runs the fixed-period flight control tick.
package control

import (
	"github.com/relabs-tech/quad_controller/internal/imu"
	"github.com/relabs-tech/quad_controller/internal/mixer"
)

// SensorReader returns one inertial sample per call. Implementations enforce
// their own bus timeouts.
type SensorReader interface {
	ReadSensors() (imu.Sample, error)
}

// ReceiverReader returns the newest raw pilot packet, or ok=false when no new
// packet arrived since the last call.
type ReceiverReader interface {
	ReadPacket() (raw []byte, ok bool, err error)
}

// MotorWriter drives the four motors with duties in [0, DutyMax].
type MotorWriter interface {
	WriteMotors(mixer.MotorCommand) error
}

// BaroReader returns the barometric altitude in metres.
type BaroReader interface {
	ReadAltitude() (float64, error)
}
