// SPDX-License-Identifier: BSD-3-Clause

package fsm

import (
	"context"
	"time"
)

// Cabinet state machine states and triggers. These names are the canonical
// vocabulary for a cabinet's control automaton; callers configure a Machine
// with NewCabinetStateMachine rather than hand-building a Config.
const (
	CabinetStateStartup                  = "STARTUP"
	CabinetStateWaitForPowerOn           = "WAIT_FOR_CABINET_POWER_ON"
	CabinetStateWaitForPowerOff          = "WAIT_FOR_CABINET_POWER_OFF"
	CabinetStateSendCurrentGame          = "SEND_CURRENT_GAME"
	CabinetStateWaitForCurrentGame       = "WAIT_FOR_CURRENT_GAME"
	CabinetStateCheckCurrentGame         = "CHECK_CURRENT_GAME"
	CabinetStateWaitForCabinetDisconnect = "WAIT_FOR_CABINET_DISCONNECT"
)

const (
	CabinetTriggerTick           = "tick"
	CabinetTriggerCabinetOff     = "cabinet_off"
	CabinetTriggerCabinetDead    = "cabinet_dead"
	CabinetTriggerGameAssigned   = "game_assigned"
	CabinetTriggerNoGameAssigned = "no_game_assigned"
	CabinetTriggerSendAccepted   = "send_accepted"
	CabinetTriggerSendComplete   = "send_complete"
	CabinetTriggerSendFailed     = "send_failed"
	CabinetTriggerGameMatches    = "game_matches"
	CabinetTriggerGameDiffers    = "game_differs"
	CabinetTriggerPowerCycle     = "power_cycle"
)

// CabinetMachineOptions supplies the hooks a Cabinet Controller needs wired
// into the generic fsm.Machine: guards that inspect host/liveness state, and
// actions that drive sends, power-cycles and logging.
type CabinetMachineOptions struct {
	Name string

	// Guards.
	IsCabinetAlive     GuardFunc
	HasGameAssigned    GuardFunc
	IsEnabled          GuardFunc
	SendCompleted      GuardFunc
	SendFailed         GuardFunc
	RunningGameMatches GuardFunc
	ShouldPowerCycle   GuardFunc

	// Actions, fired on arrival at the destination state.
	OnEnterWaitForPowerOn     ActionFunc
	OnEnterWaitForPowerOff    ActionFunc
	OnEnterSendCurrentGame    ActionFunc
	OnEnterWaitForCurrentGame ActionFunc
	OnEnterCheckCurrentGame   ActionFunc
	// OnEnterDisconnect fires when the machine drives the outlet off to
	// begin a power-cycle. OnRestorePower fires once liveness debounces to
	// false (the cabinet is confirmed powered down) and owns the outlet-on
	// side of the cycle, ahead of re-arming in WAIT_FOR_CABINET_POWER_ON.
	OnEnterDisconnect ActionFunc
	OnRestorePower    ActionFunc
	// OnForceTerminate fires whenever liveness drops while a transfer may
	// be in flight, ahead of the transition landing on
	// WAIT_FOR_CABINET_POWER_ON.
	OnForceTerminate ActionFunc

	PersistenceCallback PersistenceCallback
	BroadcastCallback   BroadcastCallback
	StateTimeout        time.Duration
}

// NewCabinetStateMachine builds the seven-state cabinet control automaton.
//
// STARTUP unconditionally advances to WAIT_FOR_CABINET_POWER_ON. From there,
// once alive, the machine branches on whether a game is selected:
// SEND_CURRENT_GAME (enabled + game selected) or WAIT_FOR_CABINET_POWER_OFF
// (no game). A completed send is verified in CHECK_CURRENT_GAME before
// settling back into WAIT_FOR_CABINET_POWER_OFF; a failed send retries from
// WAIT_FOR_CABINET_POWER_ON. Liveness dropping in WAIT_FOR_CABINET_POWER_OFF,
// SEND_CURRENT_GAME, WAIT_FOR_CURRENT_GAME or CHECK_CURRENT_GAME forces the
// machine back to WAIT_FOR_CABINET_POWER_ON, terminating any in-flight
// transfer. WAIT_FOR_CABINET_DISCONNECT is reached only via an
// explicit power-cycle (game changed with power_cycle=true): the machine
// drives the outlet off there, holds until liveness debounces to false so
// the cabinet is confirmed powered down, then drives the outlet back on and
// returns to WAIT_FOR_CABINET_POWER_ON to wait out the cabinet's boot.
func NewCabinetStateMachine(opts CabinetMachineOptions) (*Machine, error) {
	timeout := opts.StateTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// WAIT_FOR_CABINET_DISCONNECT is deliberately excluded: it is the one
	// state where the cabinet going offline is expected (the power-cycle
	// sequence drives it there itself) rather than a failure to react to.
	deadStates := []string{
		CabinetStateWaitForPowerOff,
		CabinetStateSendCurrentGame,
		CabinetStateWaitForCurrentGame,
		CabinetStateCheckCurrentGame,
	}

	cfgOpts := []Option{
		WithName(opts.Name),
		WithDescription("cabinet control automaton"),
		WithInitialState(CabinetStateStartup),
		WithStates(
			CabinetStateStartup,
			CabinetStateWaitForPowerOn,
			CabinetStateWaitForPowerOff,
			CabinetStateSendCurrentGame,
			CabinetStateWaitForCurrentGame,
			CabinetStateCheckCurrentGame,
			CabinetStateWaitForCabinetDisconnect,
		),
		WithStateTimeout(timeout),
		WithPersistence(opts.PersistenceCallback),
		WithBroadcast(opts.BroadcastCallback),

		// STARTUP always proceeds to waiting for the cabinet to come alive.
		WithActionTransition(CabinetStateStartup, CabinetStateWaitForPowerOn, CabinetTriggerTick, opts.OnEnterWaitForPowerOn),

		// From WAIT_FOR_CABINET_POWER_ON, once alive, branch on whether a
		// game is assigned.
		WithCompleteTransition(CabinetStateWaitForPowerOn, CabinetStateSendCurrentGame, CabinetTriggerGameAssigned,
			andGuards(opts.IsCabinetAlive, opts.HasGameAssigned, opts.IsEnabled), opts.OnEnterSendCurrentGame),
		WithCompleteTransition(CabinetStateWaitForPowerOn, CabinetStateWaitForPowerOff, CabinetTriggerNoGameAssigned,
			andGuards(opts.IsCabinetAlive, notGuard(opts.HasGameAssigned)), opts.OnEnterWaitForPowerOff),

		// WAIT_FOR_CABINET_POWER_OFF moves to SEND_CURRENT_GAME when the
		// assigned game differs from the one most recently sent, or to
		// DISCONNECT when the selected game changes and the cabinet is
		// configured to power-cycle on game change.
		WithGuardedTransition(CabinetStateWaitForPowerOff, CabinetStateSendCurrentGame, CabinetTriggerGameAssigned,
			andGuards(opts.HasGameAssigned, notGuard(opts.RunningGameMatches))),
		WithCompleteTransition(CabinetStateWaitForPowerOff, CabinetStateWaitForCabinetDisconnect, CabinetTriggerPowerCycle,
			opts.ShouldPowerCycle, opts.OnEnterDisconnect),

		// SEND_CURRENT_GAME hands off to the transfer worker and waits.
		WithActionTransition(CabinetStateSendCurrentGame, CabinetStateWaitForCurrentGame, CabinetTriggerSendAccepted, opts.OnEnterWaitForCurrentGame),

		// WAIT_FOR_CURRENT_GAME resolves to CHECK_CURRENT_GAME on completion,
		// or back to WAIT_FOR_CABINET_POWER_ON (retry after debounce) on
		// failure.
		WithCompleteTransition(CabinetStateWaitForCurrentGame, CabinetStateCheckCurrentGame, CabinetTriggerSendComplete,
			opts.SendCompleted, opts.OnEnterCheckCurrentGame),
		WithCompleteTransition(CabinetStateWaitForCurrentGame, CabinetStateWaitForPowerOn, CabinetTriggerSendFailed,
			opts.SendFailed, opts.OnEnterWaitForPowerOn),

		// CHECK_CURRENT_GAME verifies the assigned game still matches what
		// was sent; a mismatch (game changed during transfer) re-sends.
		WithGuardedTransition(CabinetStateCheckCurrentGame, CabinetStateWaitForPowerOff, CabinetTriggerGameMatches, opts.RunningGameMatches),
		WithActionTransition(CabinetStateCheckCurrentGame, CabinetStateSendCurrentGame, CabinetTriggerGameDiffers, opts.OnEnterSendCurrentGame),

		// WAIT_FOR_CABINET_DISCONNECT holds until liveness debounces to
		// false, confirming the outlet-off took effect; OnRestorePower then
		// drives the outlet back on ahead of waiting for the boot.
		WithCompleteTransition(CabinetStateWaitForCabinetDisconnect, CabinetStateWaitForPowerOn, CabinetTriggerCabinetOff,
			notGuard(opts.IsCabinetAlive), opts.OnRestorePower),
	}

	// Liveness dropping in any of deadStates forces the machine back to
	// WAIT_FOR_CABINET_POWER_ON; any transfer in flight is terminated by
	// OnForceTerminate ahead of the transition landing.
	for _, from := range deadStates {
		cfgOpts = append(cfgOpts, WithActionTransition(from, CabinetStateWaitForPowerOn, CabinetTriggerCabinetDead, opts.OnForceTerminate))
	}

	cfg := NewConfig(cfgOpts...)
	return New(cfg)
}

// andGuards combines guards with logical AND. A nil guard is treated as
// always-true so callers may omit guards they don't need.
func andGuards(guards ...GuardFunc) GuardFunc {
	return func(ctx context.Context) bool {
		for _, g := range guards {
			if g == nil {
				continue
			}
			if !g(ctx) {
				return false
			}
		}
		return true
	}
}

// notGuard negates a guard; a nil guard negates to always-false.
func notGuard(guard GuardFunc) GuardFunc {
	return func(ctx context.Context) bool {
		if guard == nil {
			return false
		}
		return !guard(ctx)
	}
}
