package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateType_IsTerminal(t *testing.T) {
	tests := []struct {
		state    StateType
		terminal bool
	}{
		{StateScheduled, false},
		{StatePending, false},
		{StateRunning, false},
		{StateCancelling, false},
		{StateCompleted, true},
		{StateFailed, true},
		{StateCancelled, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.terminal, tt.state.IsTerminal(), "StateType(%q).IsTerminal()", tt.state)
	}
}

func TestStateType_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from  StateType
		to    StateType
		valid bool
	}{
		{StateScheduled, StatePending, true},
		{StateScheduled, StateRunning, true},
		{StatePending, StateRunning, true},
		{StateRunning, StateCompleted, true},
		{StateRunning, StateFailed, true},
		{StateRunning, StateCancelling, true},
		{StateRunning, StateCancelled, true},
		{StateCancelling, StateCancelled, true},
		{StateRunning, StateRunning, true},
		{StateCancelled, StateCancelled, true},

		{StateCompleted, StateRunning, false},
		{StateCancelled, StateRunning, false},
		{StateFailed, StateCompleted, false},
		{StateRunning, StatePending, false},
		{StateRunning, StateScheduled, false},
		{StateCancelling, StateRunning, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStateType_IsCancelRequested(t *testing.T) {
	assert.True(t, StateCancelling.IsCancelRequested())
	assert.True(t, StateCancelled.IsCancelRequested())
	assert.False(t, StateRunning.IsCancelRequested())
}

func TestStateType_Valid(t *testing.T) {
	assert.True(t, StateCompleted.Valid())
	assert.True(t, StateScheduled.Valid())
	assert.False(t, StateType("BOGUS").Valid())
}

func TestDefaultStateName(t *testing.T) {
	assert.Equal(t, "Cancelled", DefaultStateName(StateCancelled))
	assert.Equal(t, "Running", DefaultStateName(StateRunning))
	assert.Equal(t, "Cancelling", DefaultStateName(StateCancelling))
	assert.Equal(t, "", DefaultStateName(""))
}
