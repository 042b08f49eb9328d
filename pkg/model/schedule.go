package model

import (
	"fmt"
	"time"
)

// ScheduleKind identifies which recurrence variant a ScheduleSpec carries.
type ScheduleKind string

const (
	ScheduleKindNone     ScheduleKind = "none"
	ScheduleKindInterval ScheduleKind = "interval"
	ScheduleKindCron     ScheduleKind = "cron"
	ScheduleKindRRule    ScheduleKind = "rrule"
)

// errMultipleSchedules is the message returned when more than one recurrence is supplied.
const errMultipleSchedules = "Only one of interval, cron, or rrule can be provided."

// ScheduleArgs holds the optional, mutually exclusive recurrence arguments
// accepted at registration time. A nil Interval and empty strings mean "absent".
type ScheduleArgs struct {
	Interval *time.Duration
	Cron     string
	RRule    string
	Timezone string
}

// ScheduleSpec is an immutable recurrence description with at most one variant set.
// The zero value is a valid "no schedule" spec.
type ScheduleSpec struct {
	Interval *time.Duration `json:"interval,omitempty"`
	Cron     string         `json:"cron,omitempty"`
	RRule    string         `json:"rrule,omitempty"`
	Timezone string         `json:"timezone,omitempty"`
}

// NewScheduleSpec validates args and returns the corresponding ScheduleSpec.
func NewScheduleSpec(args ScheduleArgs) (ScheduleSpec, error) {
	n := 0
	if args.Interval != nil {
		n++
	}
	if args.Cron != "" {
		n++
	}
	if args.RRule != "" {
		n++
	}
	if n > 1 {
		return ScheduleSpec{}, &ConfigurationError{Message: errMultipleSchedules}
	}
	if args.Interval != nil && *args.Interval < 0 {
		return ScheduleSpec{}, &ConfigurationError{
			Message: fmt.Sprintf("interval must be >= 0, got %s", *args.Interval),
		}
	}
	if args.Timezone != "" {
		if _, err := time.LoadLocation(args.Timezone); err != nil {
			return ScheduleSpec{}, &ConfigurationError{
				Message: fmt.Sprintf("invalid timezone %q: %v", args.Timezone, err),
			}
		}
	}

	spec := ScheduleSpec{Cron: args.Cron, RRule: args.RRule, Timezone: args.Timezone}
	if args.Interval != nil {
		d := *args.Interval
		spec.Interval = &d
	}
	return spec, nil
}

// IntervalSchedule returns a ScheduleSpec that recurs every d.
func IntervalSchedule(d time.Duration) (ScheduleSpec, error) {
	return NewScheduleSpec(ScheduleArgs{Interval: &d})
}

// CronSchedule returns a ScheduleSpec for a cron expression.
func CronSchedule(expr string) (ScheduleSpec, error) {
	return NewScheduleSpec(ScheduleArgs{Cron: expr})
}

// RRuleSchedule returns a ScheduleSpec for an RFC 5545 recurrence rule.
func RRuleSchedule(rule string) (ScheduleSpec, error) {
	return NewScheduleSpec(ScheduleArgs{RRule: rule})
}

// Kind reports which variant is populated.
func (s ScheduleSpec) Kind() ScheduleKind {
	switch {
	case s.Interval != nil:
		return ScheduleKindInterval
	case s.Cron != "":
		return ScheduleKindCron
	case s.RRule != "":
		return ScheduleKindRRule
	}
	return ScheduleKindNone
}

// IsZero returns true when no recurrence is configured.
func (s ScheduleSpec) IsZero() bool {
	return s.Kind() == ScheduleKindNone
}

// Validate re-checks the exclusivity invariant, e.g. after decoding from JSON.
func (s ScheduleSpec) Validate() error {
	_, err := NewScheduleSpec(ScheduleArgs{
		Interval: s.Interval,
		Cron:     s.Cron,
		RRule:    s.RRule,
		Timezone: s.Timezone,
	})
	return err
}

// Equal reports whether two specs describe the same recurrence.
func (s ScheduleSpec) Equal(o ScheduleSpec) bool {
	if (s.Interval == nil) != (o.Interval == nil) {
		return false
	}
	if s.Interval != nil && *s.Interval != *o.Interval {
		return false
	}
	return s.Cron == o.Cron && s.RRule == o.RRule && s.Timezone == o.Timezone
}

// String returns a short human-readable form.
func (s ScheduleSpec) String() string {
	switch s.Kind() {
	case ScheduleKindInterval:
		return "every " + s.Interval.String()
	case ScheduleKindCron:
		return "cron " + s.Cron
	case ScheduleKindRRule:
		return "rrule " + s.RRule
	}
	return "none"
}
