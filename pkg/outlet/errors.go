// SPDX-License-Identifier: BSD-3-Clause

package outlet

import "errors"

var (
	// ErrInvalidConfig indicates an outlet configuration was missing a
	// required field or carried one of the wrong type for its tag.
	ErrInvalidConfig = errors.New("invalid outlet configuration")
	// ErrUnknownVariant indicates an outlet tag did not match any known
	// driver variant.
	ErrUnknownVariant = errors.New("unknown outlet variant")
	// ErrTransport indicates an SNMP or HTTP call to the outlet failed.
	ErrTransport = errors.New("outlet transport error")
	// ErrOutletRange indicates an outlet index fell outside the range its
	// variant supports.
	ErrOutletRange = errors.New("outlet index out of range")
)
