package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScheduleSpec_RejectsMultipleKinds(t *testing.T) {
	hour := time.Hour
	tests := []struct {
		name string
		args ScheduleArgs
	}{
		{"interval+cron", ScheduleArgs{Interval: &hour, Cron: "* * * * *"}},
		{"interval+rrule", ScheduleArgs{Interval: &hour, RRule: "FREQ=MINUTELY"}},
		{"cron+rrule", ScheduleArgs{Cron: "* * * * *", RRule: "FREQ=MINUTELY"}},
		{"all three", ScheduleArgs{Interval: &hour, Cron: "* * * * *", RRule: "FREQ=MINUTELY"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScheduleSpec(tt.args)
			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigurationError, got %v", err)
			assert.Equal(t, "Only one of interval, cron, or rrule can be provided.", cfgErr.Message)
		})
	}
}

func TestNewScheduleSpec_SingleKind(t *testing.T) {
	hour := time.Hour

	spec, err := NewScheduleSpec(ScheduleArgs{Interval: &hour})
	require.NoError(t, err)
	assert.Equal(t, ScheduleKindInterval, spec.Kind())
	assert.Equal(t, time.Hour, *spec.Interval)

	spec, err = NewScheduleSpec(ScheduleArgs{Cron: "* * * * *"})
	require.NoError(t, err)
	assert.Equal(t, ScheduleKindCron, spec.Kind())

	spec, err = NewScheduleSpec(ScheduleArgs{RRule: "FREQ=MINUTELY"})
	require.NoError(t, err)
	assert.Equal(t, ScheduleKindRRule, spec.Kind())

	spec, err = NewScheduleSpec(ScheduleArgs{})
	require.NoError(t, err)
	assert.True(t, spec.IsZero())
}

func TestNewScheduleSpec_ZeroIntervalIsPresent(t *testing.T) {
	zero := time.Duration(0)
	spec, err := NewScheduleSpec(ScheduleArgs{Interval: &zero})
	require.NoError(t, err)
	assert.Equal(t, ScheduleKindInterval, spec.Kind())

	_, err = NewScheduleSpec(ScheduleArgs{Interval: &zero, Cron: "0 * * * *"})
	require.Error(t, err)
}

func TestNewScheduleSpec_NegativeInterval(t *testing.T) {
	_, err := IntervalSchedule(-time.Second)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestNewScheduleSpec_BadTimezone(t *testing.T) {
	_, err := NewScheduleSpec(ScheduleArgs{Cron: "0 0 * * *", Timezone: "Mars/Olympus"})
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestScheduleSpec_InputIsCopied(t *testing.T) {
	d := time.Minute
	spec, err := NewScheduleSpec(ScheduleArgs{Interval: &d})
	require.NoError(t, err)
	d = time.Hour
	assert.Equal(t, time.Minute, *spec.Interval)
}

func TestScheduleSpec_JSONValidate(t *testing.T) {
	var spec ScheduleSpec
	require.NoError(t, json.Unmarshal([]byte(`{"cron":"* * * * *","rrule":"FREQ=DAILY"}`), &spec))
	require.Error(t, spec.Validate())

	var ok ScheduleSpec
	require.NoError(t, json.Unmarshal([]byte(`{"interval":3600000000000}`), &ok))
	require.NoError(t, ok.Validate())
	assert.Equal(t, "every 1h0m0s", ok.String())
}

func TestScheduleSpec_Equal(t *testing.T) {
	a, _ := IntervalSchedule(time.Hour)
	b, _ := IntervalSchedule(time.Hour)
	c, _ := CronSchedule("* * * * *")
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.True(t, ScheduleSpec{}.Equal(ScheduleSpec{}))
}
