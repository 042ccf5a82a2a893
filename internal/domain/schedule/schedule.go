package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ClockTime is a zone-free wall-clock time as the timetable API reports it
// ("08:20"). Combining it with a date and location is the scheduler's job.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM" (and tolerates "HH:MM:SS").
func ParseClockTime(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 {
		return ClockTime{}, fmt.Errorf("invalid clock time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return ClockTime{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return ClockTime{}, fmt.Errorf("invalid minute in %q", s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// On returns the instant at this wall-clock time on the given day in loc.
func (c ClockTime) On(day time.Time, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, loc)
}

// CallPeriod is one lesson slot of the institution-wide bell schedule.
// Immutable for a given day; loaded once at startup and refreshed rarely.
type CallPeriod struct {
	Number    int
	TimeStart ClockTime
	TimeEnd   ClockTime
}

// ScheduleDay is one day of a group's timetable.
type ScheduleDay struct {
	Date    time.Time
	Lessons []Lesson
}

// Lesson is one numbered slot of a day; it may hold several periods
// (e.g. subgroup splits sharing the same slot).
type Lesson struct {
	Number  int
	Periods []LessonPeriod
}

// LessonPeriod describes a single class within a lesson slot.
type LessonPeriod struct {
	DisciplineFullName string
	TypeStr            string
	TimeStart          ClockTime
	TimeEnd            ClockTime
	TeachersName       string
	Classroom          string
}
