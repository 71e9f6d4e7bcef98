// internal/scheduler/evaluator.go
package scheduler

import (
	"fmt"
	"time"

	"cron-engine/internal/domain"

	"github.com/robfig/cron/v3"
)

// Outcome is what a RuleClock decided for one evaluation instant.
type Outcome int

const (
	NotDue Outcome = iota
	Due
	// Missed means a calendar instant passed while nobody was looking.
	// The firing for that day is dropped.
	Missed
)

func (o Outcome) String() string {
	switch o {
	case Due:
		return "due"
	case Missed:
		return "missed"
	}
	return "not_due"
}

// Evaluator builds RuleClocks. It holds the wall clock location used by
// calendar rules and how late a calendar firing may still happen.
type Evaluator struct {
	loc   *time.Location
	grace time.Duration
}

func NewEvaluator(loc *time.Location, grace time.Duration) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{loc: loc, grace: grace}
}

// NewClock returns the clock for a schedule registered (or resumed, or
// restored) at now.
func (e *Evaluator) NewClock(s domain.Schedule, now time.Time) (*RuleClock, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	c := &RuleClock{schedule: s, loc: e.loc, grace: e.grace}
	if s.Kind == domain.ScheduleKindCalendar {
		sched, err := cron.ParseStandard(fmt.Sprintf("%d %d * * *", s.Minute, s.Hour))
		if err != nil {
			return nil, &domain.InvalidScheduleError{Field: "calendar", Reason: err.Error()}
		}
		if spec, ok := sched.(*cron.SpecSchedule); ok {
			spec.Location = e.loc
		}
		c.calendar = sched
	}
	c.reset(now)
	return c, nil
}

// RuleClock tracks the next due instant of a single rule. It is not safe for
// concurrent use; the registry guards it with the rule's entry lock.
type RuleClock struct {
	schedule domain.Schedule
	calendar cron.Schedule
	loc      *time.Location
	grace    time.Duration

	next         time.Time
	lastFiredDay string
}

// Next is the upcoming due instant.
func (c *RuleClock) Next() time.Time { return c.next }

// Advance decides what happens at now and moves the clock past the decided
// instant. dueAt is the instant that was due, zero when NotDue.
func (c *RuleClock) Advance(now time.Time) (outcome Outcome, dueAt time.Time) {
	if now.Before(c.next) {
		return NotDue, time.Time{}
	}
	dueAt = c.next

	if c.schedule.Kind == domain.ScheduleKindInterval {
		// Spacing is measured from the actual firing, so a late tick never
		// shortens the gap to the next one.
		c.next = now.Add(c.schedule.Every())
		return Due, dueAt
	}

	c.next = c.calendar.Next(now)
	if now.Sub(dueAt) > c.grace {
		return Missed, dueAt
	}
	day := dueAt.In(c.loc).Format(time.DateOnly)
	if day == c.lastFiredDay {
		return NotDue, time.Time{}
	}
	c.lastFiredDay = day
	return Due, dueAt
}

// Resume keeps a due instant that is still ahead and otherwise recomputes it
// from now. Missed interval ticks are never replayed.
func (c *RuleClock) Resume(now time.Time) {
	if c.next.After(now) {
		return
	}
	c.reset(now)
}

func (c *RuleClock) reset(now time.Time) {
	switch c.schedule.Kind {
	case domain.ScheduleKindInterval:
		c.next = now.Add(c.schedule.Every())
	case domain.ScheduleKindCalendar:
		c.next = c.calendar.Next(now)
	}
}
