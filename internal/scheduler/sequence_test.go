package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me/flowserve/pkg/model"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestParseSchedule_Interval(t *testing.T) {
	anchor := mustTime(t, "2026-01-01T12:00:00Z")
	spec, err := model.IntervalSchedule(15 * time.Minute)
	require.NoError(t, err)

	seq, err := ParseSchedule(spec, anchor)
	require.NoError(t, err)

	assert.Equal(t, anchor, seq.Next(mustTime(t, "2026-01-01T11:00:00Z")))
	assert.Equal(t, mustTime(t, "2026-01-01T12:15:00Z"), seq.Next(mustTime(t, "2026-01-01T12:07:00Z")))
	assert.Equal(t, mustTime(t, "2026-01-01T12:30:00Z"), seq.Next(mustTime(t, "2026-01-01T12:15:00Z")))
}

func TestParseSchedule_ZeroInterval(t *testing.T) {
	spec, err := model.IntervalSchedule(0)
	require.NoError(t, err)
	seq, err := ParseSchedule(spec, time.Now())
	require.NoError(t, err)
	assert.True(t, seq.Next(time.Now()).IsZero())
}

func TestParseSchedule_Cron(t *testing.T) {
	spec, err := model.CronSchedule("0 * * * *")
	require.NoError(t, err)
	seq, err := ParseSchedule(spec, time.Time{})
	require.NoError(t, err)
	assert.True(t, mustTime(t, "2026-01-01T13:00:00Z").Equal(seq.Next(mustTime(t, "2026-01-01T12:07:00Z"))))

	hourly, err := model.CronSchedule("@hourly")
	require.NoError(t, err)
	_, err = ParseSchedule(hourly, time.Time{})
	require.NoError(t, err)
}

func TestParseSchedule_CronTimezone(t *testing.T) {
	spec, err := model.NewScheduleSpec(model.ScheduleArgs{Cron: "0 9 * * *", Timezone: "America/New_York"})
	require.NoError(t, err)
	seq, err := ParseSchedule(spec, time.Time{})
	require.NoError(t, err)

	next := seq.Next(mustTime(t, "2026-01-05T12:00:00Z"))
	assert.True(t, mustTime(t, "2026-01-05T14:00:00Z").Equal(next), "got %s", next)
}

func TestParseSchedule_RRule(t *testing.T) {
	anchor := mustTime(t, "2026-01-01T00:00:00Z")
	spec, err := model.RRuleSchedule("FREQ=HOURLY;INTERVAL=2")
	require.NoError(t, err)
	seq, err := ParseSchedule(spec, anchor)
	require.NoError(t, err)

	next := seq.Next(mustTime(t, "2026-01-01T01:30:00Z"))
	assert.True(t, mustTime(t, "2026-01-01T02:00:00Z").Equal(next), "got %s", next)
}

func TestParseSchedule_RRuleWithCount(t *testing.T) {
	spec, err := model.RRuleSchedule("DTSTART:20260101T000000Z\nRRULE:FREQ=DAILY;COUNT=2")
	require.NoError(t, err)
	seq, err := ParseSchedule(spec, time.Now())
	require.NoError(t, err)

	times := NextFireTimes(seq, mustTime(t, "2025-12-31T00:00:00Z"), mustTime(t, "2027-01-01T00:00:00Z"), 10)
	require.Len(t, times, 2)
	assert.True(t, mustTime(t, "2026-01-02T00:00:00Z").Equal(times[1]))
}

func TestParseSchedule_Invalid(t *testing.T) {
	tests := []struct {
		name string
		spec model.ScheduleSpec
	}{
		{"bad cron", model.ScheduleSpec{Cron: "not a cron"}},
		{"bad rrule", model.ScheduleSpec{RRule: "FREQ=SOMETIMES"}},
		{"bad timezone", model.ScheduleSpec{Cron: "* * * * *", Timezone: "Nowhere/Special"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSchedule(tt.spec, time.Now())
			var cfgErr *model.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestParseSchedule_None(t *testing.T) {
	seq, err := ParseSchedule(model.ScheduleSpec{}, time.Now())
	require.NoError(t, err)
	assert.Nil(t, seq)
}

func TestNextFireTimes_Limits(t *testing.T) {
	anchor := mustTime(t, "2026-01-01T00:00:00Z")
	seq := intervalSequence{anchor: anchor, every: time.Minute}

	times := NextFireTimes(seq, anchor, anchor.Add(time.Hour), 5)
	require.Len(t, times, 5)
	assert.Equal(t, anchor.Add(time.Minute), times[0])

	times = NextFireTimes(seq, anchor, anchor.Add(90*time.Second), 5)
	assert.Len(t, times, 1)
}
