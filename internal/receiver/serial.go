package receiver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/quad_controller/internal/input"
)

// SplitPackets is a bufio.SplitFunc that yields framed pilot packets from a
// byte stream. Bytes before a sync byte are skipped; a frame whose checksum
// fails is dropped one byte at a time until the stream resynchronizes.
func SplitPackets(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for {
		i := bytes.IndexByte(data[advance:], input.SyncByte)
		if i < 0 {
			return len(data), nil, nil
		}
		advance += i
		if len(data)-advance < input.PacketLen {
			if atEOF {
				return len(data), nil, nil
			}
			return advance, nil, nil
		}
		frame := data[advance : advance+input.PacketLen]
		if input.Checksum(frame[1:input.PacketLen-1]) == frame[input.PacketLen-1] {
			return advance + input.PacketLen, frame, nil
		}
		advance++
	}
}

// SerialSource reads pilot packets from a radio modem on a serial line.
type SerialSource struct {
	Slot
	r       io.Reader
	skipped atomic.Uint64
}

// OpenSerial opens the receiver port.
func OpenSerial(name string, baud uint) (io.ReadWriteCloser, error) {
	port, err := serial.Open(serial.OpenOptions{
		PortName:        name,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	})
	if err != nil {
		return nil, fmt.Errorf("receiver: open %s: %w", name, err)
	}
	log.Printf("receiver: serial port %s at %d baud", name, baud)
	return port, nil
}

// NewSerialSource reads from r once Run is started.
func NewSerialSource(r io.Reader) *SerialSource {
	return &SerialSource{r: r}
}

// Run scans packets until the reader fails or ctx is done. Closing the
// underlying port is how a blocked read is released.
func (s *SerialSource) Run(ctx context.Context) error {
	sc := bufio.NewScanner(s.r)
	sc.Split(func(data []byte, atEOF bool) (int, []byte, error) {
		adv, tok, err := SplitPackets(data, atEOF)
		skip := adv
		if tok != nil {
			skip -= len(tok)
		}
		if skip > 0 {
			s.skipped.Add(uint64(skip))
		}
		return adv, tok, err
	})
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		s.Put(sc.Bytes())
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) && ctx.Err() == nil {
		return fmt.Errorf("receiver: serial read: %w", err)
	}
	return nil
}

// Skipped returns how many stream bytes were discarded while framing.
func (s *SerialSource) Skipped() uint64 { return s.skipped.Load() }
