package session

import (
	"errors"
	"testing"
)

func TestLifecycle_InitialState(t *testing.T) {
	lc := NewLifecycle()

	if lc.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", lc.State())
	}
	if lc.IsTerminal() {
		t.Error("expected IsTerminal to be false")
	}
}

func TestLifecycle_HappyPath(t *testing.T) {
	lc := NewLifecycle()

	for _, to := range []State{StateConnecting, StateStreaming, StateDraining, StateClosed} {
		if err := lc.Transition(to); err != nil {
			t.Fatalf("transition to %v: unexpected error: %v", to, err)
		}
		if lc.State() != to {
			t.Fatalf("expected %v, got %v", to, lc.State())
		}
	}
	if !lc.IsTerminal() {
		t.Error("expected terminal after CLOSED")
	}
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []State
		to   State
	}{
		{"idle to streaming", nil, StateStreaming},
		{"idle to draining", nil, StateDraining},
		{"connecting to draining", []State{StateConnecting}, StateDraining},
		{"streaming back to connecting", []State{StateConnecting, StateStreaming}, StateConnecting},
		{"closed to streaming", []State{StateConnecting, StateStreaming, StateClosed}, StateStreaming},
		{"errored to closed", []State{StateConnecting, StateErrored}, StateClosed},
		{"closed to errored", []State{StateConnecting, StateClosed}, StateErrored},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := NewLifecycle()
			for _, s := range tt.path {
				if err := lc.Transition(s); err != nil {
					t.Fatalf("setup transition to %v: %v", s, err)
				}
			}
			before := lc.State()

			err := lc.Transition(tt.to)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
			if lc.State() != before {
				t.Errorf("state changed on invalid transition: %v → %v", before, lc.State())
			}
		})
	}
}

func TestLifecycle_TransitionFrom(t *testing.T) {
	lc := NewLifecycle()
	lc.Transition(StateConnecting)
	lc.Transition(StateStreaming)

	if lc.TransitionFrom(StateConnecting, StateErrored) {
		t.Error("expected no transition from wrong state")
	}
	if !lc.TransitionFrom(StateStreaming, StateDraining) {
		t.Error("expected transition from STREAMING")
	}
	if lc.TransitionFrom(StateStreaming, StateDraining) {
		t.Error("expected second transition to be refused")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateIdle, "IDLE"},
		{StateConnecting, "CONNECTING"},
		{StateStreaming, "STREAMING"},
		{StateDraining, "DRAINING"},
		{StateClosed, "CLOSED"},
		{StateErrored, "ERRORED"},
		{State(99), "UNKNOWN(99)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.expected)
		}
	}
}

func TestState_IsTerminal(t *testing.T) {
	for _, s := range []State{StateIdle, StateConnecting, StateStreaming, StateDraining} {
		if s.IsTerminal() {
			t.Errorf("%v should not be terminal", s)
		}
	}
	for _, s := range []State{StateClosed, StateErrored} {
		if !s.IsTerminal() {
			t.Errorf("%v should be terminal", s)
		}
	}
}
