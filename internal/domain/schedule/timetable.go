package schedule

import (
	"context"
	"errors"
	"time"
)

// ErrUpstreamUnavailable marks timetable API faults that are likely systemic
// (network error, timeout, 5xx). Callers budget these separately from
// per-chat failures.
var ErrUpstreamUnavailable = errors.New("timetable API unavailable")

// Timetable defines the queries the notification core needs from the
// university timetable API.
type Timetable interface {
	// GetCallSchedule returns the institution's fixed daily bell schedule.
	GetCallSchedule(ctx context.Context) ([]CallPeriod, error)

	// HasLessonInInterval reports whether the group has a lesson whose start
	// falls within [now, now+within).
	HasLessonInInterval(ctx context.Context, groupID int64, within time.Duration) (bool, error)

	// GetDaySchedule returns the group's timetable for the given day.
	GetDaySchedule(ctx context.Context, groupID int64, day time.Time) (*ScheduleDay, error)
}
