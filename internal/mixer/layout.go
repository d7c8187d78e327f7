package mixer

import "fmt"

// Factors are the signs (and weights) applied to the roll, pitch and yaw
// corrections for one motor.
type Factors struct {
	Roll, Pitch, Yaw float64
}

// Layout is the per-motor mixing table of a four-motor frame.
type Layout struct {
	Name   string
	Motors [4]Factors
}

// QuadX is the standard X frame, motors numbered from front-right clockwise
// when seen from above: 0 front-right (CCW prop), 1 rear-right (CW),
// 2 rear-left (CCW), 3 front-left (CW). Positive roll is right side down,
// positive pitch is nose up, positive yaw is nose right.
var QuadX = Layout{
	Name: "x",
	Motors: [4]Factors{
		{Roll: -1, Pitch: +1, Yaw: +1},
		{Roll: -1, Pitch: -1, Yaw: -1},
		{Roll: +1, Pitch: -1, Yaw: +1},
		{Roll: +1, Pitch: +1, Yaw: -1},
	},
}

// QuadPlus is the "+" frame: 0 bow, 1 stern, 2 port, 3 starboard. Each axis
// drives one opposed pair at half weight, with the QuadX sign convention:
// positive roll speeds up port, positive pitch speeds up the bow.
var QuadPlus = Layout{
	Name: "plus",
	Motors: [4]Factors{
		{Pitch: +0.5, Yaw: +0.5},
		{Pitch: -0.5, Yaw: +0.5},
		{Roll: +0.5, Yaw: -0.5},
		{Roll: -0.5, Yaw: -0.5},
	},
}

// LayoutByName resolves a configured frame layout.
func LayoutByName(name string) (Layout, error) {
	switch name {
	case "", QuadX.Name:
		return QuadX, nil
	case QuadPlus.Name:
		return QuadPlus, nil
	}
	return Layout{}, fmt.Errorf("unknown frame layout %q (want x or plus)", name)
}
