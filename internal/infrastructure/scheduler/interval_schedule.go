package scheduler

import (
	"fmt"
	"time"
)

// IntervalSchedule runs a job every Interval. With Immediate set the first
// run is due on the first tick after registration.
type IntervalSchedule struct {
	Interval  time.Duration
	Immediate bool

	started bool
}

// NewIntervalSchedule creates a new IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	if s.Immediate && !s.started {
		s.started = true
		return t
	}
	return t.Add(s.Interval)
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval)
}
