// SPDX-License-Identifier: BSD-3-Clause

// Package host implements the per-cabinet façade that serializes control
// operations (send, reboot, wipe, info, crc) against at-most-one active
// Transfer Worker, and exposes the debounced liveness a Prober maintains.
//
// A Controller owns exactly one Prober for its whole lifetime and at most
// one transfer.Handle at a time, both behind a single mutex that also
// protects alive, the sticky terminal status, and the last observed
// progress pair — mirroring the single lock the owning Cabinet State
// Machine expects to serialize against.
package host
