// Package telemetry samples controller state into records and hands them to
// outbound transports without ever blocking the control tick.
package telemetry

import (
	"encoding/json"
	"time"

	"github.com/relabs-tech/quad_controller/internal/input"
	"github.com/relabs-tech/quad_controller/internal/mixer"
	"github.com/relabs-tech/quad_controller/internal/orientation"
)

// Status is a set of degraded-condition flags.
type Status uint16

const (
	StatusStale Status = 1 << iota
	StatusLinkLost
	StatusMalformed
	StatusSaturated
	StatusFaulted
	StatusOverrun
)

var statusNames = []struct {
	s    Status
	name string
}{
	{StatusStale, "stale"},
	{StatusLinkLost, "link_lost"},
	{StatusMalformed, "malformed_input"},
	{StatusSaturated, "saturated"},
	{StatusFaulted, "faulted"},
	{StatusOverrun, "overrun"},
}

// Has reports whether every flag in f is set.
func (s Status) Has(f Status) bool { return s&f == f }

// Names lists the set flags.
func (s Status) Names() []string {
	names := []string{}
	for _, n := range statusNames {
		if s.Has(n.s) {
			names = append(names, n.name)
		}
	}
	return names
}

func (s Status) MarshalJSON() ([]byte, error) { return json.Marshal(s.Names()) }

func (s *Status) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}
	*s = 0
	for _, name := range names {
		for _, n := range statusNames {
			if n.name == name {
				*s |= n.s
			}
		}
	}
	return nil
}

// Snapshot is the state the control loop offers once per tick.
type Snapshot struct {
	Tick     uint64
	Time     time.Time
	Attitude orientation.State
	Setpoint input.Setpoint
	Motors   mixer.MotorCommand
	Status   Status
}

// Record is one outbound telemetry report. It is immutable once built.
type Record struct {
	Seq      uint64             `json:"seq"`
	Time     time.Time          `json:"time"`
	Attitude orientation.State  `json:"attitude"`
	Setpoint input.Setpoint     `json:"setpoint"`
	Motors   mixer.MotorCommand `json:"motors"`
	Arm      input.ArmState     `json:"arm"`
	Mode     input.FlightMode   `json:"mode"`
	Status   Status             `json:"status"`
}

// NewRecord copies a snapshot into a record.
func NewRecord(s Snapshot) Record {
	return Record{
		Seq:      s.Tick,
		Time:     s.Time,
		Attitude: s.Attitude,
		Setpoint: s.Setpoint,
		Motors:   s.Motors,
		Arm:      s.Setpoint.Arm,
		Mode:     s.Setpoint.Mode,
		Status:   s.Status,
	}
}
