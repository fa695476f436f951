// SPDX-License-Identifier: BSD-3-Clause

package config

import "errors"

var (
	// ErrConfig indicates a fatal problem with persisted fleet or cabinet
	// configuration: a required key missing, a value that fails to parse,
	// or an unwritable persistence path.
	ErrConfig = errors.New("invalid configuration")
	// ErrNotFound indicates a lookup referenced a cabinet record that does
	// not exist in the persisted set.
	ErrNotFound = errors.New("cabinet record not found")
)
