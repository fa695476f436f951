// SPDX-License-Identifier: BSD-3-Clause

// Package fsm provides a thread-safe finite state machine wrapper around
// github.com/qmuntal/stateless, with guard conditions, transition actions,
// state entry/exit callbacks, and persistence/broadcast hooks fired after
// every successful transition.
//
// # Basic usage
//
//	cfg := fsm.NewConfig(
//		fsm.WithName("cabinet-10.0.0.5"),
//		fsm.WithInitialState(fsm.CabinetStateStartup),
//		fsm.WithStates(fsm.CabinetStateStartup, fsm.CabinetStateWaitForPowerOn),
//		fsm.WithActionTransition(fsm.CabinetStateStartup, fsm.CabinetStateWaitForPowerOn, fsm.CabinetTriggerTick, onEnter),
//		fsm.WithPersistence(persistState),
//		fsm.WithBroadcast(broadcastTransition),
//	)
//	machine, err := fsm.New(cfg)
//	if err != nil {
//		return err
//	}
//	if err := machine.Start(ctx); err != nil {
//		return err
//	}
//	if err := machine.Fire(ctx, fsm.CabinetTriggerTick); err != nil {
//		return err
//	}
//
// NewCabinetStateMachine builds the seven-state cabinet control automaton
// directly from a CabinetMachineOptions value, which is the entry point
// most callers want instead of hand-assembling a Config. Each cabinet owns
// exactly one Machine; pkg/fleet tracks them by IP in its own map rather
// than through any grouping type in this package.
package fsm
