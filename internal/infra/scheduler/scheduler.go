package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cubicbyte/dteubot-sub000/internal/domain/schedule"

	"github.com/sirupsen/logrus"
)

// Sweeper runs one full pass over the chat population for a single offset.
// Implemented by app.NotificationService.
type Sweeper interface {
	ProcessOffsetSweep(ctx context.Context, offset time.Duration) error
}

// JobID identifies one recurring firing: a lead-time offset paired with a
// bell-schedule period number. Exactly one live timer exists per pair.
type JobID struct {
	OffsetMin int
	Period    int
}

// NotificationScheduler maintains a self-rescheduling one-shot timer for every
// (offset, period) pair. Each firing runs a sweep to completion and then
// registers tomorrow's occurrence for the same pair; a failed sweep never
// prevents the reschedule. One-shot chaining instead of a recurring trigger
// because the offset arithmetic is date-dependent.
type NotificationScheduler struct {
	timetable schedule.Timetable
	sweeper   Sweeper
	logger    *logrus.Entry

	offsets      []time.Duration
	loc          *time.Location
	retries      int
	retryBackoff time.Duration

	mu      sync.Mutex
	calls   []schedule.CallPeriod
	timers  map[JobID]*time.Timer
	started bool
	stopped bool

	ctx context.Context
	now func() time.Time // overridable in tests
}

func NewNotificationScheduler(
	timetable schedule.Timetable,
	sweeper Sweeper,
	logger *logrus.Entry,
	offsetsMin []int,
	loc *time.Location,
	callScheduleRetries int,
) *NotificationScheduler {
	offsets := make([]time.Duration, 0, len(offsetsMin))
	for _, m := range offsetsMin {
		offsets = append(offsets, time.Duration(m)*time.Minute)
	}
	return &NotificationScheduler{
		timetable:    timetable,
		sweeper:      sweeper,
		logger:       logger,
		offsets:      offsets,
		loc:          loc,
		retries:      callScheduleRetries,
		retryBackoff: 2 * time.Second,
		timers:       make(map[JobID]*time.Timer),
		now:          time.Now,
	}
}

// Start loads the bell schedule and registers the first future occurrence of
// every (offset, period) pair. Failing to load the schedule is fatal to the
// caller: without it no job can be computed.
func (s *NotificationScheduler) Start(ctx context.Context) error {
	calls, err := s.loadCallSchedule(ctx)
	if err != nil {
		return fmt.Errorf("could not load call schedule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	s.ctx = ctx
	s.calls = calls

	now := s.now()
	for _, offset := range s.offsets {
		for _, period := range calls {
			at := NextFireTime(now, period.TimeStart, offset, s.loc)
			s.registerLocked(jobID(offset, period.Number), at)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"periods": len(calls),
		"offsets": len(s.offsets),
		"jobs":    len(s.timers),
		"tz":      s.loc.String(),
	}).Info("Notification scheduler started")
	return nil
}

// Stop drops all pending timers. Deliberately no missed-notification replay:
// on restart Start recomputes fresh future times, and a lesson-start reminder
// has no value once the lesson has started.
func (s *NotificationScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.logger.Info("Notification scheduler stopped")
}

// Refresh reloads the bell schedule and re-registers jobs: new periods get
// timers, removed periods lose theirs, existing registrations are replaced
// with freshly computed fire times.
func (s *NotificationScheduler) Refresh(ctx context.Context) error {
	calls, err := s.timetable.GetCallSchedule(ctx)
	if err != nil {
		return fmt.Errorf("could not refresh call schedule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.calls = calls

	live := make(map[JobID]bool, len(calls)*len(s.offsets))
	now := s.now()
	for _, offset := range s.offsets {
		for _, period := range calls {
			id := jobID(offset, period.Number)
			live[id] = true
			s.registerLocked(id, NextFireTime(now, period.TimeStart, offset, s.loc))
		}
	}
	for id, t := range s.timers {
		if !live[id] {
			t.Stop()
			delete(s.timers, id)
		}
	}

	s.logger.WithFields(logrus.Fields{"periods": len(calls), "jobs": len(s.timers)}).
		Info("Call schedule refreshed")
	return nil
}

// registerLocked arms a one-shot timer for the pair, atomically replacing any
// previous registration under the same id so a pair never fires twice.
func (s *NotificationScheduler) registerLocked(id JobID, at time.Time) {
	if s.stopped {
		return
	}
	if old, ok := s.timers[id]; ok {
		old.Stop()
	}
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	s.timers[id] = time.AfterFunc(delay, func() { s.fire(id) })

	s.logger.WithFields(logrus.Fields{
		"offset_min": id.OffsetMin,
		"period":     id.Period,
		"fire_at":    at.Format(time.RFC3339),
	}).Debug("Notification job registered")
}

// fire runs the sweep for this pair's offset and then registers tomorrow's
// occurrence. The sweep runs synchronously here, so a pair's next occurrence
// is never computed while its current sweep is still in flight; pairs fire on
// independent timer goroutines and may overlap with each other.
func (s *NotificationScheduler) fire(id JobID) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	ctx := s.ctx
	s.mu.Unlock()

	offset := time.Duration(id.OffsetMin) * time.Minute
	log := s.logger.WithFields(logrus.Fields{"offset_min": id.OffsetMin, "period": id.Period})

	log.Info("Notification job fired, starting sweep")
	started := s.now()
	if err := s.sweeper.ProcessOffsetSweep(ctx, offset); err != nil {
		// One bad day must never disable future days: log and reschedule anyway.
		log.WithError(err).Error("Sweep finished with error")
	} else {
		log.WithField("duration", s.now().Sub(started).String()).Info("Sweep finished")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	period, ok := s.findPeriodLocked(id.Period)
	if !ok {
		// Period vanished in a refresh while the sweep ran; the chain ends here.
		log.Warn("Period no longer in call schedule, job not rescheduled")
		return
	}
	s.registerLocked(id, nextFireTimeAfter(s.now(), period.TimeStart, offset, s.loc))
}

func (s *NotificationScheduler) findPeriodLocked(number int) (schedule.CallPeriod, bool) {
	for _, p := range s.calls {
		if p.Number == number {
			return p, true
		}
	}
	return schedule.CallPeriod{}, false
}

func (s *NotificationScheduler) loadCallSchedule(ctx context.Context) ([]schedule.CallPeriod, error) {
	var lastErr error
	for attempt := 1; attempt <= s.retries; attempt++ {
		calls, err := s.timetable.GetCallSchedule(ctx)
		if err == nil {
			return calls, nil
		}
		lastErr = err
		s.logger.WithError(err).WithField("attempt", attempt).
			Warn("Failed to load call schedule, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * s.retryBackoff):
		}
	}
	return nil, lastErr
}

func jobID(offset time.Duration, period int) JobID {
	return JobID{OffsetMin: int(offset / time.Minute), Period: period}
}
