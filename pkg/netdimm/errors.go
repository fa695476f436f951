// SPDX-License-Identifier: BSD-3-Clause

package netdimm

import "errors"

var (
	// ErrTransport indicates a network-level failure talking to the board.
	ErrTransport = errors.New("netdimm transport error")
	// ErrProtocol indicates the board responded with a malformed or
	// unexpected message.
	ErrProtocol = errors.New("netdimm protocol error")
	// ErrClosed indicates an operation was attempted on a closed client.
	ErrClosed = errors.New("netdimm client closed")
)
