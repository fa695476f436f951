// SPDX-License-Identifier: BSD-3-Clause

package patch

import "errors"

var (
	// ErrInvalidDirective indicates a patch file line could not be parsed.
	ErrInvalidDirective = errors.New("invalid patch directive")
	// ErrOffsetOutOfRange indicates a directive's offset was negative.
	ErrOffsetOutOfRange = errors.New("patch offset out of range")
	// ErrWindowExhausted indicates the underlying image window could not
	// satisfy a read needed to apply a directive.
	ErrWindowExhausted = errors.New("patch window exhausted")
)
