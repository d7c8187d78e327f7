// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package input

import (
	"fmt"
	"math"

	"github.com/relabs-tech/quad_controller/internal/fault"
	"github.com/relabs-tech/quad_controller/internal/mathx"
)

// Pilot packet layout:
//
//	[0]   sync 0xA5
//	[1]   buttons 0, active low: bit0 Select, bit3 Start
//	[2]   buttons 1, active low: bit0 L2, bit1 R2, bit2 L1, bit3 R1
//	[3]   right stick X
//	[4]   right stick Y
//	[5]   left stick X
//	[6]   left stick Y
//	[7]   XOR of bytes 1..6
//
// Stick bytes are centred on 127.5; 0 is left/up, 255 is right/down.
const (
	PacketLen = 8
	SyncByte  = 0xA5

	stickCenter = 127.5
)

const (
	btnSelect = 0x01
	btnStart  = 0x08

	btnL2 = 0x01
	btnR2 = 0x02
	btnL1 = 0x04
	btnR1 = 0x08
)

// Pad is the decoded hand-controller state. Sticks are in [-1, 1].
type Pad struct {
	Select, Start  bool
	L1, L2, R1, R2 bool

	RX, RY, LX, LY float64
}

// Checksum returns the XOR of the payload bytes.
func Checksum(payload []byte) byte {
	var x byte
	for _, b := range payload {
		x ^= b
	}
	return x
}

// ParsePacket validates framing and decodes a pilot packet.
func ParsePacket(raw []byte) (Pad, error) {
	if len(raw) != PacketLen {
		return Pad{}, fault.New(fault.MalformedInput, "decode", fmt.Sprintf("packet length %d, want %d", len(raw), PacketLen))
	}
	if raw[0] != SyncByte {
		return Pad{}, fault.New(fault.MalformedInput, "decode", fmt.Sprintf("bad sync byte 0x%02X", raw[0]))
	}
	if sum := Checksum(raw[1:7]); sum != raw[7] {
		return Pad{}, fault.New(fault.MalformedInput, "decode", fmt.Sprintf("checksum 0x%02X, want 0x%02X", raw[7], sum))
	}

	b0, b1 := raw[1], raw[2]
	return Pad{
		Select: b0&btnSelect == 0,
		Start:  b0&btnStart == 0,
		L2:     b1&btnL2 == 0,
		R2:     b1&btnR2 == 0,
		L1:     b1&btnL1 == 0,
		R1:     b1&btnR1 == 0,
		RX:     stick(raw[3]),
		RY:     stick(raw[4]),
		LX:     stick(raw[5]),
		LY:     stick(raw[6]),
	}, nil
}

func stick(b byte) float64 {
	return mathx.Clamp((float64(b)-stickCenter)/stickCenter, -1, 1)
}

func stickByte(v float64) byte {
	return byte(math.Round(mathx.Clamp(v, -1, 1)*stickCenter + stickCenter))
}

// EncodePacket builds a framed pilot packet from a pad state.
func EncodePacket(p Pad) []byte {
	b0, b1 := byte(0xFF), byte(0xFF)
	press := func(b *byte, mask byte, pressed bool) {
		if pressed {
			*b &^= mask
		}
	}
	press(&b0, btnSelect, p.Select)
	press(&b0, btnStart, p.Start)
	press(&b1, btnL2, p.L2)
	press(&b1, btnR2, p.R2)
	press(&b1, btnL1, p.L1)
	press(&b1, btnR1, p.R1)

	pkt := []byte{SyncByte, b0, b1, stickByte(p.RX), stickByte(p.RY), stickByte(p.LX), stickByte(p.LY), 0}
	pkt[7] = Checksum(pkt[1:7])
	return pkt
}

// ThrottleStick returns the left-stick Y value that commands throttle t in [0,1]
// for a given deadband. Used by the bench pilot and tests.
func ThrottleStick(t, deadband float64) float64 {
	if t <= 0 {
		return 0
	}
	return -(deadband + mathx.Clamp(t, 0, 1)*(1-deadband))
}
