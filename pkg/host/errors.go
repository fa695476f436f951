// SPDX-License-Identifier: BSD-3-Clause

package host

import "errors"

var (
	// ErrHostBusy indicates send was called while a transfer is already
	// in flight.
	ErrHostBusy = errors.New("host controller busy")
	// ErrNoActiveTransfer indicates progress was read while the sentinel
	// (-1,-1) is still in place: no transfer has completed its first
	// progress datum since the last send.
	ErrNoActiveTransfer = errors.New("no active transfer")
	// ErrTransport indicates the controller could not reach the board at
	// all (dial failure) for a one-shot operation.
	ErrTransport = errors.New("host controller transport error")
)
