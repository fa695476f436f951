// SPDX-License-Identifier: BSD-3-Clause

package cabinet

import "errors"

var (
	// ErrInvalidConfig indicates a Cabinet was constructed with an invalid
	// configuration (e.g. selected_filename not present in patches).
	ErrInvalidConfig = errors.New("invalid cabinet config")
	// ErrNoSelectedFilename indicates an operation required a selected
	// game but none was configured.
	ErrNoSelectedFilename = errors.New("no selected filename")
)
