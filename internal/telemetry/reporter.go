package telemetry

import (
	"errors"
	"log"
	"time"
)

// Reporter samples snapshots at a bounded rate and forwards them to a Sender.
// It is driven from the control goroutine and does not lock.
type Reporter struct {
	interval time.Duration
	sender   Sender

	last    time.Time
	sampled bool

	sent    uint64
	dropped uint64
}

// NewReporter emits at most one record per interval.
func NewReporter(interval time.Duration, sender Sender) *Reporter {
	return &Reporter{interval: interval, sender: sender}
}

// Sample builds and sends a record if the interval has elapsed since the last
// one. The second result is false when the snapshot was skipped.
func (r *Reporter) Sample(s Snapshot) (Record, bool) {
	if r.sampled && s.Time.Sub(r.last) < r.interval {
		return Record{}, false
	}
	r.last = s.Time
	r.sampled = true

	rec := NewRecord(s)
	if err := r.sender.Send(rec); err != nil {
		r.dropped++
		if !errors.Is(err, ErrNotReady) {
			log.Printf("telemetry: send seq %d: %v", rec.Seq, err)
		}
		return rec, true
	}
	r.sent++
	return rec, true
}

// Counters returns how many records were accepted and dropped.
func (r *Reporter) Counters() (sent, dropped uint64) { return r.sent, r.dropped }
