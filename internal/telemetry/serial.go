// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"fmt"
	"io"

	serial "github.com/jacobsa/go-serial/serial"
)

// Encoding selects the serial wire format.
type Encoding string

const (
	EncodingSentence Encoding = "sentence" // $PQTEL line
	EncodingFrame    Encoding = "frame"    // 16-byte compact frame
)

// SerialTransport writes records to a byte stream, typically a radio modem.
type SerialTransport struct {
	w   io.Writer
	enc Encoding
}

// NewSerialTransport writes to w with the given encoding.
func NewSerialTransport(w io.Writer, enc Encoding) (*SerialTransport, error) {
	switch enc {
	case EncodingSentence, EncodingFrame:
	default:
		return nil, fmt.Errorf("unknown telemetry encoding %q", enc)
	}
	return &SerialTransport{w: w, enc: enc}, nil
}

// OpenSerialPort opens a serial port for telemetry output.
func OpenSerialPort(name string, baud uint) (io.ReadWriteCloser, error) {
	opts := serial.OpenOptions{
		PortName:        name,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	}
	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open telemetry port %s: %w", name, err)
	}
	return port, nil
}

// Publish writes one encoded record.
func (t *SerialTransport) Publish(r Record) error {
	var b []byte
	switch t.enc {
	case EncodingFrame:
		b = EncodeFrame(r)
	default:
		b = []byte(EncodeSentence(r) + "\r\n")
	}
	if _, err := t.w.Write(b); err != nil {
		return fmt.Errorf("serial telemetry write: %w", err)
	}
	return nil
}
