// SPDX-License-Identifier: BSD-3-Clause

// Package fleet owns the runtime set of cabinets a control-plane process
// manages: adding and removing them as configuration changes, ticking each
// one's control automaton on a fixed heartbeat, and broadcasting state
// transitions and transfer progress over an embedded, in-process NATS bus.
//
// Manager exposes Name and Run so it can be supervised the same way the
// rest of a daemon's long-running processes are: a panic in the heartbeat
// loop propagates out of Run, and cmd/cabinetd's supervision wrapper
// converts it to an error so the supervision tree restarts it.
package fleet
