// internal/domain/schedule.go
package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ScheduleKind tags the variant held by a Schedule.
type ScheduleKind string

const (
	ScheduleKindInterval ScheduleKind = "interval"
	ScheduleKindCalendar ScheduleKind = "calendar"
)

// IntervalUnit is the unit of an interval schedule.
type IntervalUnit string

const (
	UnitSeconds IntervalUnit = "seconds"
	UnitMinutes IntervalUnit = "minutes"
	UnitHours   IntervalUnit = "hours"
)

// Duration is the length of one unit, or 0 for an unknown unit.
func (u IntervalUnit) Duration() time.Duration {
	switch u {
	case UnitSeconds:
		return time.Second
	case UnitMinutes:
		return time.Minute
	case UnitHours:
		return time.Hour
	}
	return 0
}

// Schedule is either Interval{Unit, Count} or Calendar{Hour, Minute}.
// Only the fields of the active Kind are meaningful.
type Schedule struct {
	Kind   ScheduleKind `json:"kind"`
	Unit   IntervalUnit `json:"unit,omitempty"`
	Count  int          `json:"count,omitempty"`
	Hour   int          `json:"hour"`
	Minute int          `json:"minute"`
}

// Interval builds an interval schedule.
func Interval(unit IntervalUnit, count int) Schedule {
	return Schedule{Kind: ScheduleKindInterval, Unit: unit, Count: count}
}

// Calendar builds a daily wall-clock schedule.
func Calendar(hour, minute int) Schedule {
	return Schedule{Kind: ScheduleKindCalendar, Hour: hour, Minute: minute}
}

// Validate checks the fields of the active kind. It never mutates the schedule.
func (s Schedule) Validate() error {
	switch s.Kind {
	case ScheduleKindInterval:
		unit := s.Unit.Duration()
		if unit == 0 {
			return &InvalidScheduleError{Field: "unit", Reason: fmt.Sprintf("unsupported interval unit %q", s.Unit)}
		}
		if s.Count <= 0 {
			return &InvalidScheduleError{Field: "count", Reason: "interval count must be a positive integer"}
		}
		// Every must stay a positive time.Duration.
		if limit := int64(math.MaxInt64 / unit); int64(s.Count) > limit {
			return &InvalidScheduleError{Field: "count", Reason: fmt.Sprintf("interval count %d exceeds %d %s", s.Count, limit, s.Unit)}
		}
	case ScheduleKindCalendar:
		if s.Hour < 0 || s.Hour > 23 {
			return &InvalidScheduleError{Field: "hour", Reason: fmt.Sprintf("hour %d out of range 0-23", s.Hour)}
		}
		if s.Minute < 0 || s.Minute > 59 {
			return &InvalidScheduleError{Field: "minute", Reason: fmt.Sprintf("minute %d out of range 0-59", s.Minute)}
		}
	default:
		return &InvalidScheduleError{Field: "kind", Reason: fmt.Sprintf("unknown schedule kind %q", s.Kind)}
	}
	return nil
}

// Every returns the period of an interval schedule, or 0 for calendar schedules.
func (s Schedule) Every() time.Duration {
	if s.Kind != ScheduleKindInterval {
		return 0
	}
	return time.Duration(s.Count) * s.Unit.Duration()
}

func (s Schedule) String() string {
	switch s.Kind {
	case ScheduleKindInterval:
		return fmt.Sprintf("every %d %s", s.Count, s.Unit)
	case ScheduleKindCalendar:
		return fmt.Sprintf("daily at %02d:%02d", s.Hour, s.Minute)
	}
	return string(s.Kind)
}

// ParseSchedule converts the compact schedule_type/schedule_value form into a
// validated Schedule.
//
//	interval  "30s" | "5m" | "1h"
//	calendar  "HH:MM" (schedule type "cron" is accepted as an alias)
func ParseSchedule(scheduleType, value string) (Schedule, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Schedule{}, &InvalidScheduleError{Field: "schedule_value", Reason: "schedule value required"}
	}

	var s Schedule
	switch strings.ToLower(strings.TrimSpace(scheduleType)) {
	case "interval":
		unit, ok := map[byte]IntervalUnit{'s': UnitSeconds, 'm': UnitMinutes, 'h': UnitHours}[value[len(value)-1]]
		if !ok {
			return Schedule{}, &InvalidScheduleError{Field: "schedule_value", Reason: fmt.Sprintf("interval %q must end in s, m or h", value)}
		}
		count, err := strconv.Atoi(value[:len(value)-1])
		if err != nil {
			return Schedule{}, &InvalidScheduleError{Field: "schedule_value", Reason: fmt.Sprintf("invalid interval count in %q", value)}
		}
		s = Interval(unit, count)
	case "calendar", "cron":
		parts := strings.Split(value, ":")
		if len(parts) != 2 {
			return Schedule{}, &InvalidScheduleError{Field: "schedule_value", Reason: fmt.Sprintf("invalid time %q, expected HH:MM", value)}
		}
		h, err := strconv.Atoi(parts[0])
		if err != nil {
			return Schedule{}, &InvalidScheduleError{Field: "hour", Reason: fmt.Sprintf("invalid hour in %q", value)}
		}
		m, err := strconv.Atoi(parts[1])
		if err != nil {
			return Schedule{}, &InvalidScheduleError{Field: "minute", Reason: fmt.Sprintf("invalid minute in %q", value)}
		}
		s = Calendar(h, m)
	default:
		return Schedule{}, &InvalidScheduleError{Field: "schedule_type", Reason: fmt.Sprintf("unknown schedule type %q", scheduleType)}
	}

	if err := s.Validate(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}
