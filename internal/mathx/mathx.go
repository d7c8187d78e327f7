// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package mathx holds the small numeric helpers shared by the control path.
package mathx

import (
	"fmt"
	"math"
)

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MapRange linearly maps v from [inMin, inMax] to [outMin, outMax] without clamping.
func MapRange(v, inMin, inMax, outMin, outMax float64) float64 {
	return (v-inMin)*(outMax-outMin)/(inMax-inMin) + outMin
}

// Finite reports whether every value is neither NaN nor infinite.
func Finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Deg converts radians to degrees.
func Deg(rad float64) float64 { return rad * 180.0 / math.Pi }

// Rad converts degrees to radians.
func Rad(deg float64) float64 { return deg * math.Pi / 180.0 }

// NumericMode selects how the control path represents intermediate values.
type NumericMode string

const (
	Float NumericMode = "float"
	Fixed NumericMode = "fixed"
)

// Policy rounds values to the configured representation. Under Fixed every value
// is quantized to a signed Q format with FracBits fractional bits, saturating at
// the int32 range. The zero value behaves as Float.
type Policy struct {
	Mode     NumericMode
	FracBits uint
}

// NewPolicy validates mode and fractional bits.
func NewPolicy(mode string, fracBits int) (Policy, error) {
	switch NumericMode(mode) {
	case "", Float:
		return Policy{Mode: Float}, nil
	case Fixed:
		if fracBits < 1 || fracBits > 24 {
			return Policy{}, fmt.Errorf("fixed-point fractional bits must be 1-24, got %d", fracBits)
		}
		return Policy{Mode: Fixed, FracBits: uint(fracBits)}, nil
	}
	return Policy{}, fmt.Errorf("unknown numeric mode %q", mode)
}

// Apply returns v in the policy's representation.
func (p Policy) Apply(v float64) float64 {
	if p.Mode != Fixed || math.IsNaN(v) {
		return v
	}
	scale := float64(int64(1) << p.FracBits)
	q := math.Round(v * scale)
	q = Clamp(q, math.MinInt32, math.MaxInt32)
	return q / scale
}

// ApplyWithin is Apply for a value that must stay within [lo, hi]. A quantized
// value that rounds past a bound is moved to the nearest representable value
// inside it. When no representable value lies within [lo, hi] the result is v
// clamped.
func (p Policy) ApplyWithin(v, lo, hi float64) float64 {
	v = Clamp(v, lo, hi)
	if p.Mode != Fixed || math.IsNaN(v) {
		return v
	}
	scale := float64(int64(1) << p.FracBits)
	floor := math.Floor(hi*scale) / scale
	ceil := math.Ceil(lo*scale) / scale
	if ceil > floor {
		return v
	}
	return Clamp(p.Apply(v), ceil, floor)
}

// Resolution is the smallest step representable under the policy (0 for Float).
func (p Policy) Resolution() float64 {
	if p.Mode != Fixed {
		return 0
	}
	return 1 / float64(int64(1)<<p.FracBits)
}
