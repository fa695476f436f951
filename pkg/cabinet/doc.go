// SPDX-License-Identifier: BSD-3-Clause

// Package cabinet models a single arcade cabinet: its persisted
// configuration, its Host Controller, its Outlet Driver, and the
// seven-state control automaton (pkg/fsm.NewCabinetStateMachine) that
// coordinates them on every Fleet Manager heartbeat.
//
// A Cabinet with enabled=false still runs its Host Controller's Liveness
// Prober but performs no state transitions and starts no transfers. All
// mutation — configuration changes, ticking, force-offline — goes through
// Cabinet's exported methods, which serialize against the same mutex the
// guard and action closures wired into the state machine read.
package cabinet
