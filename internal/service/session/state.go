package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a session.
type State int

const (
	// StateIdle - Session created, not yet connected.
	StateIdle State = iota
	// StateConnecting - Dialing the backend and waiting for its ack.
	StateConnecting
	// StateStreaming - Accepting audio and emitting events.
	StateStreaming
	// StateDraining - Input closed, waiting for the backend's last results.
	StateDraining
	// StateClosed - All tasks finished normally.
	StateClosed
	// StateErrored - The session ended because of a failure.
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	case StateDraining:
		return "DRAINING"
	case StateClosed:
		return "CLOSED"
	case StateErrored:
		return "ERRORED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (CLOSED or ERRORED).
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateErrored
}

var ErrInvalidTransition = errors.New("invalid session state transition")

// allowed lists the legal transitions.
//
//	IDLE → CONNECTING → STREAMING → DRAINING → CLOSED
//	          │             │           │
//	          └─────────────┴───────────┴──→ ERRORED
var allowed = map[State][]State{
	StateIdle:       {StateConnecting, StateClosed},
	StateConnecting: {StateStreaming, StateErrored, StateClosed},
	StateStreaming:  {StateDraining, StateErrored, StateClosed},
	StateDraining:   {StateClosed, StateErrored},
}

// Lifecycle guards the state machine of a single session.
// Thread-safe for concurrent access.
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// NewLifecycle creates a lifecycle in IDLE state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateIdle}
}

func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Transition moves to the given state.
// Returns ErrInvalidTransition if the move is not allowed.
func (l *Lifecycle) Transition(to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, s := range allowed[l.state] {
		if s == to {
			l.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, l.state, to)
}

// TransitionFrom moves to the given state only if the current state is from.
// Returns true if the transition happened.
func (l *Lifecycle) TransitionFrom(from, to State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != from {
		return false
	}
	l.state = to
	return true
}

// IsTerminal returns true if the session is CLOSED or ERRORED.
func (l *Lifecycle) IsTerminal() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.IsTerminal()
}
