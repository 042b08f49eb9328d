package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Code: ErrNotFound, Message: "Deployment 'dep_123' not found"}
	assert.Equal(t, "NOT_FOUND: Deployment 'dep_123' not found", err.Error())
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("FlowRun", "run_abc")
	assert.Equal(t, ErrNotFound, err.Code)
	assert.Equal(t, "FlowRun 'run_abc' not found", err.Message)
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("Invalid request",
		FieldError{Field: "name", Message: "required"},
		FieldError{Field: "flow_name", Message: "required"},
	)
	assert.Equal(t, ErrValidation, err.Code)
	assert.Len(t, err.Details, 2)
}

func TestInvalidTransitionError(t *testing.T) {
	err := &InvalidTransitionError{
		Entity: "FlowRun",
		ID:     "run_123",
		From:   "COMPLETED",
		To:     "RUNNING",
	}
	assert.Equal(t, "invalid FlowRun state transition: COMPLETED → RUNNING (entity run_123)", err.Error())

	err.From, err.Reason = "RUNNING", "already running on runner-a"
	assert.Equal(t, "invalid FlowRun state transition: RUNNING → RUNNING (entity run_123): already running on runner-a", err.Error())
}

func TestConfigurationError_As(t *testing.T) {
	_, err := NewScheduleSpec(ScheduleArgs{Cron: "* * * * *", RRule: "FREQ=DAILY"})
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "Only one of interval, cron, or rrule can be provided.", cfgErr.Error())
}
