// SPDX-License-Identifier: BSD-3-Clause

package transfer

import "errors"

var (
	// ErrInvalidSpec indicates a Spec was missing a required field.
	ErrInvalidSpec = errors.New("invalid transfer spec")
	// ErrImageOpen indicates the selected image file could not be opened.
	ErrImageOpen = errors.New("failed to open image file")
	// ErrPatchOpen indicates a patch file could not be opened.
	ErrPatchOpen = errors.New("failed to open patch file")
)
