package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cubicbyte/dteubot-sub000/internal/domain/chat"
	"github.com/cubicbyte/dteubot-sub000/internal/domain/schedule"
	domainTelegram "github.com/cubicbyte/dteubot-sub000/internal/domain/telegram"
	"github.com/cubicbyte/dteubot-sub000/internal/infra/metrics"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gopkg.in/telebot.v3"
)

// sweepSlack widens the lesson-lookup interval past the offset so a lesson
// starting exactly at the boundary is still caught despite timer jitter.
const sweepSlack = time.Minute

// NotificationService runs the per-offset sweep over the chat population and
// dispatches class reminders.
type NotificationService struct {
	chatRepo       chat.Repository
	timetable      schedule.Timetable
	telegramClient domainTelegram.Client
	logger         *logrus.Entry
	loc            *time.Location
	faultBudget    int
	limiter        *rate.Limiter

	now func() time.Time // overridable in tests
}

func NewNotificationService(
	chatRepo chat.Repository,
	timetable schedule.Timetable,
	telegramClient domainTelegram.Client,
	logger *logrus.Entry,
	loc *time.Location,
	faultBudget int,
	ratePerSec int,
) *NotificationService {
	if faultBudget <= 0 {
		faultBudget = 5
	}
	var limiter *rate.Limiter
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}
	return &NotificationService{
		chatRepo:       chatRepo,
		timetable:      timetable,
		telegramClient: telegramClient,
		logger:         logger,
		loc:            loc,
		faultBudget:    faultBudget,
		limiter:        limiter,
		now:            time.Now,
	}
}

// ProcessOffsetSweep visits every persisted chat once and sends a reminder to
// each eligible chat whose group has a lesson starting within the offset
// window. Upstream timetable faults share a per-sweep budget: past the budget
// the rest of the sweep is abandoned (the remaining chats simply miss this
// occurrence). Any other per-chat failure is logged and isolated. The budget
// resets on every sweep.
func (s *NotificationService) ProcessOffsetSweep(ctx context.Context, offset time.Duration) error {
	offsetMin := int(offset / time.Minute)
	offsetLabel := fmt.Sprintf("%dm", offsetMin)
	log := s.logger.WithField("offset_min", offsetMin)

	started := s.now()
	defer func() {
		metrics.SweepDuration.WithLabelValues(offsetLabel).Observe(s.now().Sub(started).Seconds())
	}()

	it, err := s.chatRepo.IterateAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to iterate chats: %w", err)
	}
	defer it.Close()

	faults := 0
	dispatched := 0
	for it.Next() {
		c := it.Chat()
		if !c.GroupID.Valid || !c.OffsetEnabled(offsetMin) || !c.Reachable {
			continue
		}
		chatLog := log.WithFields(logrus.Fields{"chat_id": c.ChatID, "group_id": c.GroupID.Int64})

		due, err := s.timetable.HasLessonInInterval(ctx, c.GroupID.Int64, offset+sweepSlack)
		if err == nil && !due {
			continue
		}
		if err == nil {
			err = s.dispatch(ctx, c, offsetMin, offsetLabel)
			if err == nil {
				dispatched++
				continue
			}
		}

		if errors.Is(err, schedule.ErrUpstreamUnavailable) {
			faults++
			metrics.UpstreamFaults.Inc()
			chatLog.WithError(err).WithField("faults", faults).Warn("Timetable API fault during sweep")
			if faults >= s.faultBudget {
				// Likely systemic: stop wasting calls. Remaining chats miss
				// this occurrence; tomorrow's job still gets scheduled.
				metrics.SweepsAborted.WithLabelValues(offsetLabel).Inc()
				log.WithField("faults", faults).Error("Fault budget exhausted, aborting sweep early")
				return nil
			}
			continue
		}

		// Chat-specific failure: isolate it so one bad chat never blocks peers.
		metrics.NotificationsFailed.WithLabelValues(offsetLabel).Inc()
		chatLog.WithError(err).Error("Failed to notify chat, continuing sweep")
	}

	log.WithField("dispatched", dispatched).Info("Sweep completed")
	return it.Err()
}

// dispatch renders and sends one reminder, then records it under the offset's
// notification kind. A permanent delivery rejection flips the chat to
// unreachable and is not an error.
func (s *NotificationService) dispatch(ctx context.Context, c *chat.NotificationState, offsetMin int, offsetLabel string) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	day, err := s.timetable.GetDaySchedule(ctx, c.GroupID.Int64, s.now().In(s.loc))
	if err != nil {
		return fmt.Errorf("failed to fetch day schedule: %w", err)
	}

	text := renderNotification(offsetMin, day, s.now().In(s.loc), s.loc)
	msg, err := s.telegramClient.SendMessage(c.ChatID, text, &telebot.SendOptions{ParseMode: telebot.ModeHTML})
	if err != nil {
		if isPermanentDeliveryError(err) {
			if repoErr := s.chatRepo.SetReachable(ctx, c.ChatID, false); repoErr != nil {
				s.logger.WithError(repoErr).WithField("chat_id", c.ChatID).
					Error("Failed to mark chat unreachable")
			}
			s.logger.WithField("chat_id", c.ChatID).Info("Chat marked unreachable, delivery permanently rejected")
			return nil
		}
		return fmt.Errorf("failed to send notification: %w", err)
	}

	metrics.NotificationsSent.WithLabelValues(offsetLabel).Inc()

	record := &chat.SentMessage{
		ChatID:    c.ChatID,
		Kind:      fmt.Sprintf("cl_notif_%dm", offsetMin),
		MessageID: msg.ID,
	}
	if err := s.chatRepo.SaveSentMessage(ctx, record); err != nil {
		// The reminder is already delivered; a failed record must not fail the chat.
		s.logger.WithError(err).WithField("chat_id", c.ChatID).Error("Failed to record sent notification")
	}
	return nil
}

// isPermanentDeliveryError reports Telegram rejections that no retry will
// ever fix: the chat transitions to unreachable until some external action
// resets it.
func isPermanentDeliveryError(err error) bool {
	return errors.Is(err, telebot.ErrBlockedByUser) ||
		errors.Is(err, telebot.ErrUserIsDeactivated) ||
		errors.Is(err, telebot.ErrChatNotFound) ||
		errors.Is(err, telebot.ErrNotStartedByUser) ||
		errors.Is(err, telebot.ErrKickedFromGroup) ||
		errors.Is(err, telebot.ErrKickedFromSuperGroup)
}

func renderNotification(offsetMin int, day *schedule.ScheduleDay, now time.Time, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔔 <b>Заняття починається через %s</b>\n", minutesLabel(offsetMin))

	for _, lesson := range day.Lessons {
		for _, p := range lesson.Periods {
			if p.TimeStart.On(day.Date, loc).Before(now) {
				continue
			}
			fmt.Fprintf(&b, "\n%d) ⏰ %s–%s\n📚 %s (%s)", lesson.Number, p.TimeStart, p.TimeEnd, p.DisciplineFullName, p.TypeStr)
			if p.Classroom != "" {
				fmt.Fprintf(&b, "\n🚪 %s", p.Classroom)
			}
			if p.TeachersName != "" {
				fmt.Fprintf(&b, "\n👤 %s", p.TeachersName)
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func minutesLabel(min int) string {
	switch {
	case min == 1:
		return "1 хвилину"
	case min >= 2 && min <= 4:
		return fmt.Sprintf("%d хвилини", min)
	default:
		return fmt.Sprintf("%d хвилин", min)
	}
}
