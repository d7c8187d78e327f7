// Package receiver delivers raw pilot packets from the radio side to the
// control tick. Adapters run their own goroutines and hand packets over
// through a latest-value slot, so the tick never waits on the link.
package receiver

import "sync"

// Slot holds the newest packet until it is taken. A packet that arrives before
// the previous one was taken replaces it.
type Slot struct {
	mu       sync.Mutex
	pkt      []byte
	fresh    bool
	received uint64
	replaced uint64
}

// Put stores a copy of p.
func (s *Slot) Put(p []byte) {
	cp := append([]byte(nil), p...)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fresh {
		s.replaced++
	}
	s.pkt = cp
	s.fresh = true
	s.received++
}

// ReadPacket returns the newest packet once; ok is false until another
// arrives.
func (s *Slot) ReadPacket() ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fresh {
		return nil, false, nil
	}
	s.fresh = false
	return s.pkt, true, nil
}

// Counters returns how many packets arrived and how many were overwritten
// before the tick read them.
func (s *Slot) Counters() (received, replaced uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received, s.replaced
}
