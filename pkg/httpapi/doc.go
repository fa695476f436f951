// SPDX-License-Identifier: BSD-3-Clause

// Package httpapi is the HTTP/JSON control plane: cabinet CRUD, asset
// listing and upload, game selection, power toggling, and DIMM info
// lookups. Every response is wrapped {error, message?, ...payload} and
// marked non-cacheable.
package httpapi
