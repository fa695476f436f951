// SPDX-License-Identifier: BSD-3-Clause

package fleet

import "errors"

var (
	// ErrCabinetExists indicates an attempt to add a cabinet whose IP is
	// already registered with the fleet.
	ErrCabinetExists = errors.New("cabinet already registered")
	// ErrCabinetNotFound indicates a lookup or mutation referenced an IP
	// that is not registered with the fleet.
	ErrCabinetNotFound = errors.New("cabinet not found")
	// ErrBusNotReady indicates the event bus's embedded NATS server did not
	// become ready for connections within the startup timeout.
	ErrBusNotReady = errors.New("fleet event bus not ready")
)
