// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package harness

import (
	"fmt"
	"sync"
)

// LifecycleState is a benchmark's position in its lifecycle.
type LifecycleState int

const (
	StateCreated LifecycleState = iota
	StateSettingUp
	StateReady
	StateMeasuring
	StateTearingDown
	StateDone
	StateErrored
)

// String returns the state name.
func (s LifecycleState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSettingUp:
		return "setting-up"
	case StateReady:
		return "ready"
	case StateMeasuring:
		return "measuring"
	case StateTearingDown:
		return "tearing-down"
	case StateDone:
		return "done"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are allowed.
func (s LifecycleState) Terminal() bool {
	return s == StateDone || s == StateErrored
}

// transitions lists the legal successor states.
//
// Measuring may also move to TearingDown after a measurement failure so
// teardown still runs; the failure is carried by the caller and Errored
// is entered from TearingDown.
var transitions = map[LifecycleState][]LifecycleState{
	StateCreated:     {StateSettingUp},
	StateSettingUp:   {StateReady, StateErrored},
	StateReady:       {StateMeasuring},
	StateMeasuring:   {StateTearingDown, StateErrored},
	StateTearingDown: {StateDone, StateErrored},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to LifecycleState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionFunc observes lifecycle transitions.
type TransitionFunc func(benchmark string, from, to LifecycleState)

// Lifecycle tracks one benchmark's state and rejects illegal transitions.
//
// Thread Safety: Safe for concurrent use.
type Lifecycle struct {
	mu        sync.Mutex
	benchmark string
	state     LifecycleState
	history   []LifecycleState
	observer  TransitionFunc
}

// NewLifecycle starts a lifecycle in StateCreated. observer may be nil.
func NewLifecycle(benchmark string, observer TransitionFunc) *Lifecycle {
	return &Lifecycle{
		benchmark: benchmark,
		state:     StateCreated,
		history:   []LifecycleState{StateCreated},
		observer:  observer,
	}
}

// State returns the current state.
func (l *Lifecycle) State() LifecycleState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// History returns every state entered, in order, starting with Created.
func (l *Lifecycle) History() []LifecycleState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LifecycleState, len(l.history))
	copy(out, l.history)
	return out
}

// Transition moves to the given state.
//
// Outputs:
//   - error: ErrInvalidTransition if to is not a legal successor.
func (l *Lifecycle) Transition(to LifecycleState) error {
	l.mu.Lock()
	from := l.state
	if !CanTransition(from, to) {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s: %s -> %s", ErrInvalidTransition, l.benchmark, from, to)
	}
	l.state = to
	l.history = append(l.history, to)
	observer := l.observer
	l.mu.Unlock()

	if observer != nil {
		observer(l.benchmark, from, to)
	}
	return nil
}
