package scheduler

import (
	"time"

	"github.com/cubicbyte/dteubot-sub000/internal/domain/schedule"
)

// NextFireTime computes the next occurrence of "period start minus offset" in
// the institution's timezone. An occurrence that already passed rolls to
// tomorrow; an occurrence equal to now is due now, not skipped. Pure function,
// the call-schedule cache is never mutated.
func NextFireTime(now time.Time, start schedule.ClockTime, offset time.Duration, loc *time.Location) time.Time {
	local := now.In(loc)
	target := start.On(local, loc).Add(-offset)
	if target.Before(now) {
		// Wall-clock construction on the next calendar day keeps lesson
		// boundaries stable across DST transitions.
		target = start.On(local.AddDate(0, 0, 1), loc).Add(-offset)
	}
	return target
}

// nextFireTimeAfter is the reschedule variant: the first occurrence strictly
// after now, so a firing never re-arms itself for the same instant.
func nextFireTimeAfter(now time.Time, start schedule.ClockTime, offset time.Duration, loc *time.Location) time.Time {
	target := NextFireTime(now, start, offset, loc)
	if !target.After(now) {
		target = start.On(now.In(loc).AddDate(0, 0, 1), loc).Add(-offset)
	}
	return target
}
