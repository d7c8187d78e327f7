package control

import (
	"context"
	"time"
)

// Scheduler produces ticks at a fixed period and measures the real interval
// between consecutive ticks.
type Scheduler struct {
	period time.Duration
	ticker *time.Ticker
	last   time.Time

	overruns uint64
}

// NewScheduler starts a ticker with the given period.
func NewScheduler(period time.Duration) *Scheduler {
	return &Scheduler{period: period, ticker: time.NewTicker(period)}
}

// Next waits for the next tick. dt is the measured time since the previous
// tick (the nominal period on the first one). overrun is set when dt exceeded
// 1.5 periods, i.e. at least one tick was missed.
func (s *Scheduler) Next(ctx context.Context) (now time.Time, dt time.Duration, overrun bool, err error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, 0, false, err
	}
	select {
	case <-ctx.Done():
		return time.Time{}, 0, false, ctx.Err()
	case now = <-s.ticker.C:
	}
	if s.last.IsZero() {
		dt = s.period
	} else {
		dt = now.Sub(s.last)
	}
	s.last = now
	if dt <= 0 {
		dt = s.period
	}
	if dt > s.period*3/2 {
		s.overruns++
		overrun = true
	}
	return now, dt, overrun, nil
}

// Overruns returns how many ticks arrived late.
func (s *Scheduler) Overruns() uint64 { return s.overruns }

// Stop releases the ticker.
func (s *Scheduler) Stop() { s.ticker.Stop() }
