// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrNotReady is returned by a Sender that cannot take a record right now.
var ErrNotReady = errors.New("telemetry: transport not ready")

// Sender accepts records without blocking.
type Sender interface {
	Send(Record) error
}

// Transport delivers one record and may block (network, serial, display).
type Transport interface {
	Publish(Record) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(Record) error

func (f SenderFunc) Send(r Record) error { return f(r) }

// AsyncSender queues records for a blocking Transport drained by its own
// goroutine. Send drops the record with ErrNotReady when the queue is full.
type AsyncSender struct {
	name      string
	transport Transport
	queue     chan Record

	mu      sync.Mutex
	failed  uint64
	started bool
	done    chan struct{}
}

// NewAsyncSender wraps t with a queue of the given depth (at least 1).
func NewAsyncSender(name string, t Transport, depth int) *AsyncSender {
	if depth < 1 {
		depth = 1
	}
	return &AsyncSender{
		name:      name,
		transport: t,
		queue:     make(chan Record, depth),
		done:      make(chan struct{}),
	}
}

// Send enqueues r or returns ErrNotReady.
func (a *AsyncSender) Send(r Record) error {
	select {
	case a.queue <- r:
		return nil
	default:
		return ErrNotReady
	}
}

// Start drains the queue until ctx is done.
func (a *AsyncSender) Start(ctx context.Context) {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.mu.Unlock()

	go func() {
		defer close(a.done)
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-a.queue:
				if err := a.transport.Publish(r); err != nil {
					a.mu.Lock()
					a.failed++
					n := a.failed
					a.mu.Unlock()
					// log the first failure and then every 100th
					if n == 1 || n%100 == 0 {
						log.Printf("telemetry: %s publish failed (%d total): %v", a.name, n, err)
					}
				}
			}
		}
	}()
}

// Wait blocks until the drain goroutine has exited. It returns at once if
// Start was never called.
func (a *AsyncSender) Wait() {
	a.mu.Lock()
	started := a.started
	a.mu.Unlock()
	if started {
		<-a.done
	}
}

// Failed returns how many publishes returned an error.
func (a *AsyncSender) Failed() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failed
}

// Fanout offers each record to every sender. It reports ErrNotReady only when
// no sender accepted the record.
type Fanout []Sender

func (f Fanout) Send(r Record) error {
	if len(f) == 0 {
		return nil
	}
	accepted := false
	for _, s := range f {
		if s.Send(r) == nil {
			accepted = true
		}
	}
	if !accepted {
		return ErrNotReady
	}
	return nil
}
