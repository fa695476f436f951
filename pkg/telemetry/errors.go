// SPDX-License-Identifier: BSD-3-Clause

package telemetry

import "errors"

var (
	// ErrAlreadyInitialized indicates Setup was called more than once.
	ErrAlreadyInitialized = errors.New("telemetry already initialized")
	// ErrInvalidConfiguration indicates the supplied Config failed validation.
	ErrInvalidConfiguration = errors.New("invalid telemetry configuration")
)
