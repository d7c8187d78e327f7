package sim

import (
	"sync"

	"github.com/relabs-tech/quad_controller/internal/input"
)

// Pilot is a bench hand controller. It emits the current pad state as a framed
// packet every Every reads and can be switched off to simulate a lost link.
type Pilot struct {
	mu    sync.Mutex
	pad   input.Pad
	every int
	reads int
	off   bool
	sent  uint64
}

// NewPilot sends a packet every n reads (n < 1 means every read).
func NewPilot(every int) *Pilot {
	if every < 1 {
		every = 1
	}
	return &Pilot{every: every}
}

// Set replaces the pad state.
func (p *Pilot) Set(pad input.Pad) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pad = pad
}

// Pad returns the pad state.
func (p *Pilot) Pad() input.Pad {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pad
}

// Link turns the transmitter on or off.
func (p *Pilot) Link(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.off = !on
}

// Sent returns the number of packets emitted.
func (p *Pilot) Sent() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

// ReadPacket implements control.ReceiverReader.
func (p *Pilot) ReadPacket() ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads++
	if p.off || p.reads%p.every != 0 {
		return nil, false, nil
	}
	p.sent++
	return input.EncodePacket(p.pad), true, nil
}
