// SPDX-License-Identifier: BSD-3-Clause

package httpapi

import "errors"

var (
	// ErrListen indicates the HTTP listener failed to bind its address.
	ErrListen = errors.New("failed to bind http listener")
	// ErrBadRequest indicates a malformed or incomplete request body.
	ErrBadRequest = errors.New("bad request")
)
