// Package fault defines the error taxonomy of the flight controller.
package fault

import "errors"

// Code is a stable error identifier. It is a string newtype and implements error,
// so it can be returned directly or wrapped in E.
type Code string

func (c Code) Error() string { return string(c) }

const (
	OK Code = "ok"

	// SensorFault is raised once the estimator has held a stale state for too long.
	SensorFault Code = "sensor_fault"
	// LinkLoss is raised when no valid pilot packet arrived within the timeout.
	LinkLoss Code = "link_loss"
	// MalformedInput marks a pilot packet with bad length, sync or checksum.
	MalformedInput Code = "malformed_input"
	// ActuationSaturation marks a mixer output that had to be desaturated.
	ActuationSaturation Code = "actuation_saturation"
	// ConfigurationError marks invalid gains, limits or layouts.
	ConfigurationError Code = "configuration_error"
	InvalidParams      Code = "invalid_params"

	Error Code = "error"
)

// E keeps the operation and a cause alongside a Code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is lets errors.Is(err, fault.SensorFault) match a wrapped E.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// New builds an E.
func New(c Code, op, msg string) *E { return &E{C: c, Op: op, Msg: msg} }

// Wrap builds an E around a cause.
func Wrap(c Code, op string, err error) *E { return &E{C: c, Op: op, Err: err} }

// Of extracts the Code from an error chain, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	return Error
}

// IsFatal reports whether the error must stop flight.
func IsFatal(err error) bool {
	switch Of(err) {
	case SensorFault, ConfigurationError:
		return true
	}
	return false
}
