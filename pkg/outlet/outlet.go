// SPDX-License-Identifier: BSD-3-Clause

package outlet

import "context"

// State is the observed or desired power state of an outlet.
type State int

const (
	StateUnknown State = iota
	StateOn
	StateOff
)

// String renders a State for logging.
func (s State) String() string {
	switch s {
	case StateOn:
		return "ON"
	case StateOff:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// Driver is the capability surface a Cabinet's power_cycle behavior and the
// HTTP control plane's admin power toggle depend on. ReadState never
// blocks more than a few seconds and maps transport failures to
// StateUnknown rather than propagating an error. WriteState is idempotent:
// writing the currently observed state is a no-op that still returns nil.
type Driver interface {
	ReadState(ctx context.Context) State
	WriteState(ctx context.Context, state State) error
}

// noneDriver is the no-op variant used when a cabinet has no outlet
// configured, or when its configuration failed validation.
type noneDriver struct{}

// None returns the no-op Driver: ReadState always reports StateUnknown and
// WriteState always succeeds without doing anything.
func None() Driver {
	return noneDriver{}
}

func (noneDriver) ReadState(context.Context) State     { return StateUnknown }
func (noneDriver) WriteState(context.Context, State) error { return nil }
