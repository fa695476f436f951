// SPDX-License-Identifier: BSD-3-Clause

package probe

import "errors"

var (
	// ErrInvalidConfig indicates a Prober was constructed with a missing
	// or unusable target address.
	ErrInvalidConfig = errors.New("invalid prober configuration")
	// ErrICMPSocket indicates the underlying ICMP listener could not be
	// opened; probing degrades to always-failing rather than returning
	// this to callers.
	ErrICMPSocket = errors.New("failed to open ICMP socket")
)
