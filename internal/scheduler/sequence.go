package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/teambition/rrule-go"

	"github.com/me/flowserve/pkg/model"
)

// cronParser accepts standard five-field expressions and @descriptors.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Sequence yields the fire times of a schedule.
type Sequence interface {
	// Next returns the first fire time strictly after t, or the zero time
	// when the schedule is exhausted.
	Next(t time.Time) time.Time
}

// ParseSchedule compiles spec into a Sequence. Interval and rrule schedules
// without an explicit DTSTART are anchored at anchor. A zero spec yields nil.
func ParseSchedule(spec model.ScheduleSpec, anchor time.Time) (Sequence, error) {
	loc := time.UTC
	if spec.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(spec.Timezone); err != nil {
			return nil, &model.ConfigurationError{Message: fmt.Sprintf("invalid timezone %q: %v", spec.Timezone, err)}
		}
	}

	switch spec.Kind() {
	case model.ScheduleKindInterval:
		return intervalSequence{anchor: anchor, every: *spec.Interval}, nil

	case model.ScheduleKindCron:
		sched, err := cronParser.Parse(spec.Cron)
		if err != nil {
			return nil, &model.ConfigurationError{Message: fmt.Sprintf("invalid cron %q: %v", spec.Cron, err)}
		}
		return cronSequence{sched: sched, loc: loc}, nil

	case model.ScheduleKindRRule:
		opt, err := rrule.StrToROptionInLocation(spec.RRule, loc)
		if err != nil {
			return nil, &model.ConfigurationError{Message: fmt.Sprintf("invalid rrule %q: %v", spec.RRule, err)}
		}
		if opt.Dtstart.IsZero() {
			opt.Dtstart = anchor.In(loc).Truncate(time.Second)
		}
		r, err := rrule.NewRRule(*opt)
		if err != nil {
			return nil, &model.ConfigurationError{Message: fmt.Sprintf("invalid rrule %q: %v", spec.RRule, err)}
		}
		return rruleSequence{rule: r}, nil
	}
	return nil, nil
}

// NextFireTimes returns up to limit fire times of seq strictly after after
// and not later than until.
func NextFireTimes(seq Sequence, after, until time.Time, limit int) []time.Time {
	var out []time.Time
	for len(out) < limit {
		next := seq.Next(after)
		if next.IsZero() || next.After(until) {
			break
		}
		out = append(out, next.UTC())
		after = next
	}
	return out
}

type intervalSequence struct {
	anchor time.Time
	every  time.Duration
}

func (s intervalSequence) Next(t time.Time) time.Time {
	// A zero interval has no recurrence.
	if s.every <= 0 {
		return time.Time{}
	}
	if t.Before(s.anchor) {
		return s.anchor
	}
	k := t.Sub(s.anchor)/s.every + 1
	return s.anchor.Add(k * s.every)
}

type cronSequence struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s cronSequence) Next(t time.Time) time.Time {
	return s.sched.Next(t.In(s.loc))
}

type rruleSequence struct {
	rule *rrule.RRule
}

func (s rruleSequence) Next(t time.Time) time.Time {
	return s.rule.After(t, false)
}
