// SPDX-License-Identifier: BSD-3-Clause

package fsm

import (
	"context"
	"fmt"
	"time"
)

// PersistenceCallback is called when state needs to be persisted.
type PersistenceCallback func(ctx context.Context, machineName, state string) error

// BroadcastCallback is called when state changes need to be broadcast.
type BroadcastCallback func(ctx context.Context, machineName, previousState, currentState, trigger string) error

// EntryCallback is called when entering any state.
type EntryCallback func(ctx context.Context, machineName, state string) error

// ExitCallback is called when exiting any state.
type ExitCallback func(ctx context.Context, machineName, state string) error

// GuardFunc determines if a transition is allowed.
type GuardFunc func(ctx context.Context) bool

// ActionFunc is executed during a transition, after the destination state
// has been entered.
type ActionFunc func(from, to, trigger string) error

// Transition represents one permitted state transition, with optional guard
// and action.
type Transition struct {
	From    string
	To      string
	Trigger string
	Guard   GuardFunc
	Action  ActionFunc
}

// Config holds the configuration for a state machine wrapper.
type Config struct {
	Name          string
	Description   string
	InitialState  string
	States        []string
	Transitions   []Transition
	StateTimeout  time.Duration
	EnableTracing bool

	PersistenceCallback PersistenceCallback
	BroadcastCallback   BroadcastCallback
	OnStateEntry        EntryCallback
	OnStateExit         ExitCallback
}

// Option represents a configuration option for the state machine.
type Option interface {
	apply(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) apply(c *Config) { f(c) }

// WithName sets the name of the state machine.
func WithName(name string) Option {
	return optionFunc(func(c *Config) { c.Name = name })
}

// WithDescription sets the description of the state machine.
func WithDescription(description string) Option {
	return optionFunc(func(c *Config) { c.Description = description })
}

// WithInitialState sets the initial state of the state machine.
func WithInitialState(state string) Option {
	return optionFunc(func(c *Config) { c.InitialState = state })
}

// WithStates sets the available states for the state machine.
func WithStates(states ...string) Option {
	return optionFunc(func(c *Config) { c.States = append([]string(nil), states...) })
}

// WithTransition adds an unguarded, action-less transition.
func WithTransition(from, to, trigger string) Option {
	return optionFunc(func(c *Config) {
		c.Transitions = append(c.Transitions, Transition{From: from, To: to, Trigger: trigger})
	})
}

// WithGuardedTransition adds a transition with a guard condition.
func WithGuardedTransition(from, to, trigger string, guard GuardFunc) Option {
	return optionFunc(func(c *Config) {
		c.Transitions = append(c.Transitions, Transition{From: from, To: to, Trigger: trigger, Guard: guard})
	})
}

// WithActionTransition adds a transition with an action executed on arrival.
func WithActionTransition(from, to, trigger string, action ActionFunc) Option {
	return optionFunc(func(c *Config) {
		c.Transitions = append(c.Transitions, Transition{From: from, To: to, Trigger: trigger, Action: action})
	})
}

// WithCompleteTransition adds a transition with both guard and action.
func WithCompleteTransition(from, to, trigger string, guard GuardFunc, action ActionFunc) Option {
	return optionFunc(func(c *Config) {
		c.Transitions = append(c.Transitions, Transition{From: from, To: to, Trigger: trigger, Guard: guard, Action: action})
	})
}

// WithStateTimeout sets the maximum duration a single Fire call may take.
func WithStateTimeout(timeout time.Duration) Option {
	return optionFunc(func(c *Config) { c.StateTimeout = timeout })
}

// WithTracing enables OpenTelemetry span emission for Fire calls.
func WithTracing(enabled bool) Option {
	return optionFunc(func(c *Config) { c.EnableTracing = enabled })
}

// WithPersistence sets the persistence callback, invoked after every
// successful transition with the new state.
func WithPersistence(callback PersistenceCallback) Option {
	return optionFunc(func(c *Config) { c.PersistenceCallback = callback })
}

// WithBroadcast sets the broadcast callback, invoked after every successful
// transition with the previous and new state plus the trigger that caused it.
func WithBroadcast(callback BroadcastCallback) Option {
	return optionFunc(func(c *Config) { c.BroadcastCallback = callback })
}

// WithStateEntry sets the callback invoked whenever any state is entered.
func WithStateEntry(callback EntryCallback) Option {
	return optionFunc(func(c *Config) { c.OnStateEntry = callback })
}

// WithStateExit sets the callback invoked whenever any state is exited.
func WithStateExit(callback ExitCallback) Option {
	return optionFunc(func(c *Config) { c.OnStateExit = callback })
}

// NewConfig builds a Config from the provided options, applying defaults
// for anything left unset.
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		States:       []string{},
		Transitions:  []Transition{},
		StateTimeout: 30 * time.Second,
	}

	for _, opt := range opts {
		opt.apply(cfg)
	}

	return cfg
}

// Validate checks a Config for internal consistency before it is handed to New.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidConfig)
	}
	if c.InitialState == "" {
		return fmt.Errorf("%w: initial state cannot be empty", ErrInvalidConfig)
	}
	if len(c.States) == 0 {
		return fmt.Errorf("%w: at least one state must be defined", ErrInvalidConfig)
	}

	stateNames := make(map[string]bool, len(c.States))
	initialStateFound := false
	for _, state := range c.States {
		if state == "" {
			return fmt.Errorf("%w: state name cannot be empty", ErrInvalidConfig)
		}
		if stateNames[state] {
			return fmt.Errorf("%w: duplicate state name: %s", ErrInvalidConfig, state)
		}
		stateNames[state] = true
		if state == c.InitialState {
			initialStateFound = true
		}
	}
	if !initialStateFound {
		return fmt.Errorf("%w: initial state %s not found in states list", ErrInvalidConfig, c.InitialState)
	}

	for _, transition := range c.Transitions {
		if transition.From == "" || transition.To == "" {
			return fmt.Errorf("%w: transition from and to states cannot be empty", ErrInvalidConfig)
		}
		if transition.Trigger == "" {
			return fmt.Errorf("%w: transition trigger cannot be empty", ErrInvalidConfig)
		}
		if !stateNames[transition.From] {
			return fmt.Errorf("%w: transition from state %s not found", ErrInvalidConfig, transition.From)
		}
		if !stateNames[transition.To] {
			return fmt.Errorf("%w: transition to state %s not found", ErrInvalidConfig, transition.To)
		}
	}

	if c.StateTimeout <= 0 {
		return fmt.Errorf("%w: state timeout must be positive", ErrInvalidConfig)
	}

	return nil
}
