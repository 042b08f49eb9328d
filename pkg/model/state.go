package model

import (
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// StateType is the lifecycle state of a FlowRun.
type StateType string

const (
	StateScheduled  StateType = "SCHEDULED"
	StatePending    StateType = "PENDING"
	StateRunning    StateType = "RUNNING"
	StateCompleted  StateType = "COMPLETED"
	StateFailed     StateType = "FAILED"
	StateCancelling StateType = "CANCELLING"
	StateCancelled  StateType = "CANCELLED"
)

// String returns the string representation of the state type.
func (s StateType) String() string {
	return string(s)
}

// IsTerminal returns true if the flow run is in a final state.
func (s StateType) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// IsCancelRequested returns true for states that ask a runner to stop execution.
func (s StateType) IsCancelRequested() bool {
	return s == StateCancelling || s == StateCancelled
}

// Valid reports whether s is a known state type.
func (s StateType) Valid() bool {
	_, ok := ValidFlowRunTransitions[s]
	return ok || s.IsTerminal()
}

// ValidFlowRunTransitions defines the allowed state transitions for FlowRuns.
var ValidFlowRunTransitions = map[StateType][]StateType{
	StateScheduled:  {StatePending, StateRunning, StateCancelling, StateCancelled, StateFailed},
	StatePending:    {StateScheduled, StateRunning, StateCancelling, StateCancelled, StateFailed},
	StateRunning:    {StateCompleted, StateFailed, StateCancelling, StateCancelled},
	StateCancelling: {StateCancelled, StateCompleted, StateFailed},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
// Writing the current state again is always allowed.
func (s StateType) CanTransitionTo(next StateType) bool {
	if s == next {
		return true
	}
	for _, allowed := range ValidFlowRunTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// State is the full state of a FlowRun as reported to or by the service.
type State struct {
	Type      StateType `json:"type"`
	Name      string    `json:"name"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DefaultStateName returns the display name for a state type, e.g. "Cancelled".
func DefaultStateName(t StateType) string {
	return cases.Title(language.Und).String(string(t))
}

// StateUpdate is a request to move a flow run into a new state.
type StateUpdate struct {
	Type       StateType `json:"type"`
	Name       string    `json:"name,omitempty"`
	Message    string    `json:"message,omitempty"`
	RunnerName string    `json:"runner_name,omitempty"`
}
