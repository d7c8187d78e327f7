package telemetry

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/relabs-tech/quad_controller/internal/mathx"
)

// FrameSize is the length of the compact radio frame.
const FrameSize = 16

// Compact frame scaling.
const (
	AngleLSB = 1.0   // deg per count
	RateLSB  = 2.0   // deg/s per count
	MotorLSB = 0.001 // duty per count
)

// Frame is the decoded compact radio frame:
//
//	i8  roll angle, i8 pitch angle, i8 yaw rate
//	u8  throttle input (0-255)
//	i8  roll, pitch, yaw rate inputs
//	i16 motor 0..3, little endian
//	u8  counter (low byte of seq)
type Frame struct {
	Roll, Pitch, YawRate float64
	Throttle             float64
	RollIn, PitchIn      float64
	YawIn                float64
	Motors               [4]float64
	Counter              uint8
}

func i8(v, lsb float64) byte {
	return byte(int8(math.Round(mathx.Clamp(v/lsb, math.MinInt8, math.MaxInt8))))
}

func i16(v, lsb float64) uint16 {
	return uint16(int16(math.Round(mathx.Clamp(v/lsb, math.MinInt16, math.MaxInt16))))
}

func finite(v float64) float64 {
	if !mathx.Finite(v) {
		return 0
	}
	return v
}

// EncodeFrame packs a record into the compact frame. Values outside the
// representable range saturate.
func EncodeFrame(r Record) []byte {
	b := make([]byte, FrameSize)
	b[0] = i8(finite(r.Attitude.Roll), AngleLSB)
	b[1] = i8(finite(r.Attitude.Pitch), AngleLSB)
	b[2] = i8(finite(r.Attitude.YawRate), RateLSB)
	b[3] = byte(math.Round(mathx.Clamp(finite(r.Setpoint.Throttle), 0, 1) * 255))
	b[4] = i8(finite(r.Setpoint.RollRate), RateLSB)
	b[5] = i8(finite(r.Setpoint.PitchRate), RateLSB)
	b[6] = i8(finite(r.Setpoint.YawRate), RateLSB)
	for i, m := range r.Motors {
		binary.LittleEndian.PutUint16(b[7+2*i:], i16(finite(m), MotorLSB))
	}
	b[15] = uint8(r.Seq)
	return b
}

// DecodeFrame unpacks a compact frame.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) != FrameSize {
		return Frame{}, fmt.Errorf("telemetry frame length %d, want %d", len(b), FrameSize)
	}
	f := Frame{
		Roll:     float64(int8(b[0])) * AngleLSB,
		Pitch:    float64(int8(b[1])) * AngleLSB,
		YawRate:  float64(int8(b[2])) * RateLSB,
		Throttle: float64(b[3]) / 255,
		RollIn:   float64(int8(b[4])) * RateLSB,
		PitchIn:  float64(int8(b[5])) * RateLSB,
		YawIn:    float64(int8(b[6])) * RateLSB,
		Counter:  b[15],
	}
	for i := range f.Motors {
		f.Motors[i] = float64(int16(binary.LittleEndian.Uint16(b[7+2*i:]))) * MotorLSB
	}
	return f, nil
}
