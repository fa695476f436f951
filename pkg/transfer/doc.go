// SPDX-License-Identifier: BSD-3-Clause

// Package transfer implements the isolated patch-then-send pipeline a Host
// Controller spawns at most one of at a time: read an image file,
// apply a list of textual binary patches in file order, splice in any
// EEPROM/SRAM settings blobs, then stream the result to a NetDIMM board
// while reporting progress.
//
// A Worker runs on its own goroutine with no shared mutable state beyond
// its Handle's message channel, so a Handle.Terminate can be issued at any
// time without corrupting the owning controller: the worker's own context
// is canceled, which unblocks any in-flight netdimm I/O and the goroutine
// exits without further cooperation from the work it was doing. Before
// every progress publication the worker re-checks a caller-supplied parent
// token; if the controller has since moved on to another transfer (or
// torn this one down), the worker stops publishing and exits.
//
// Messages are delivered in order: zero or more Progress, followed by
// exactly one Success or Failure. A worker whose parent token is no longer
// valid, or whose context was canceled, exits without that terminal
// message. The channel is closed when the worker exits.
package transfer
