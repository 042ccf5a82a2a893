package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cubicbyte/dteubot-sub000/internal/domain/chat"
	"github.com/cubicbyte/dteubot-sub000/internal/domain/schedule"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

type sliceIterator struct {
	chats []*chat.NotificationState
	i     int
}

func (it *sliceIterator) Next() bool {
	if it.i >= len(it.chats) {
		return false
	}
	it.i++
	return true
}
func (it *sliceIterator) Chat() *chat.NotificationState { return it.chats[it.i-1] }
func (it *sliceIterator) Err() error                    { return nil }
func (it *sliceIterator) Close() error                  { return nil }

type fakeChatRepo struct {
	chats       []*chat.NotificationState
	saved       []*chat.SentMessage
	unreachable []int64
}

func (r *fakeChatRepo) Upsert(ctx context.Context, s *chat.NotificationState) error {
	for _, c := range r.chats {
		if c.ChatID == s.ChatID {
			c.Reachable = true
			return nil
		}
	}
	r.chats = append(r.chats, s)
	return nil
}
func (r *fakeChatRepo) GetByChatID(ctx context.Context, chatID int64) (*chat.NotificationState, error) {
	for _, c := range r.chats {
		if c.ChatID == chatID {
			return c, nil
		}
	}
	return nil, errors.New("not found")
}
func (r *fakeChatRepo) SetGroup(ctx context.Context, chatID, groupID int64) error {
	c, err := r.GetByChatID(ctx, chatID)
	if err != nil {
		return err
	}
	c.GroupID = sql.NullInt64{Int64: groupID, Valid: true}
	return nil
}
func (r *fakeChatRepo) SetOffsetEnabled(ctx context.Context, chatID int64, offsetMin int, enabled bool) error {
	c, err := r.GetByChatID(ctx, chatID)
	if err != nil {
		return err
	}
	if c.Enabled == nil {
		c.Enabled = make(map[int]bool)
	}
	c.Enabled[offsetMin] = enabled
	return nil
}
func (r *fakeChatRepo) SetReachable(ctx context.Context, chatID int64, reachable bool) error {
	if !reachable {
		r.unreachable = append(r.unreachable, chatID)
	}
	return nil
}
func (r *fakeChatRepo) IterateAll(ctx context.Context) (chat.Iterator, error) {
	return &sliceIterator{chats: r.chats}, nil
}
func (r *fakeChatRepo) SaveSentMessage(ctx context.Context, m *chat.SentMessage) error {
	r.saved = append(r.saved, m)
	return nil
}

type scriptedTimetable struct {
	lookups   int
	hasLesson func(call int, groupID int64) (bool, error)
	dayErr    error
}

func (t *scriptedTimetable) GetCallSchedule(ctx context.Context) ([]schedule.CallPeriod, error) {
	return nil, errors.New("not used")
}
func (t *scriptedTimetable) HasLessonInInterval(ctx context.Context, groupID int64, within time.Duration) (bool, error) {
	t.lookups++
	return t.hasLesson(t.lookups, groupID)
}
func (t *scriptedTimetable) GetDaySchedule(ctx context.Context, groupID int64, day time.Time) (*schedule.ScheduleDay, error) {
	if t.dayErr != nil {
		return nil, t.dayErr
	}
	return &schedule.ScheduleDay{Date: day}, nil
}

type recordingTelegram struct {
	sent   []int64
	errFor map[int64]error
	nextID int
}

func (c *recordingTelegram) SendMessage(chatID int64, text string, opts *telebot.SendOptions) (*telebot.Message, error) {
	c.sent = append(c.sent, chatID)
	if err, ok := c.errFor[chatID]; ok {
		return nil, err
	}
	c.nextID++
	return &telebot.Message{ID: c.nextID}, nil
}

func alwaysDue(call int, groupID int64) (bool, error) { return true, nil }

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l.WithField("component", "test")
}

func eligibleChat(chatID, groupID int64) *chat.NotificationState {
	return &chat.NotificationState{
		ChatID:    chatID,
		GroupID:   sql.NullInt64{Int64: groupID, Valid: true},
		Reachable: true,
		Enabled:   map[int]bool{15: true},
	}
}

func newTestService(repo *fakeChatRepo, tt *scriptedTimetable, tg *recordingTelegram, budget int) *NotificationService {
	return NewNotificationService(repo, tt, tg, testLogger(), time.UTC, budget, 0)
}

func TestSweepSkipsIneligibleChats(t *testing.T) {
	disabled := eligibleChat(2, 200)
	disabled.Enabled = map[int]bool{15: false}
	noGroup := eligibleChat(3, 0)
	noGroup.GroupID = sql.NullInt64{}
	blocked := eligibleChat(4, 400)
	blocked.Reachable = false

	repo := &fakeChatRepo{chats: []*chat.NotificationState{eligibleChat(1, 100), disabled, noGroup, blocked}}
	tt := &scriptedTimetable{hasLesson: alwaysDue}
	tg := &recordingTelegram{}

	svc := newTestService(repo, tt, tg, 5)
	if err := svc.ProcessOffsetSweep(context.Background(), 15*time.Minute); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if tt.lookups != 1 {
		t.Errorf("timetable queried %d times, want 1 (ineligible chats must not reach the API)", tt.lookups)
	}
	if len(tg.sent) != 1 || tg.sent[0] != 1 {
		t.Errorf("sent to %v, want exactly chat 1", tg.sent)
	}
}

func TestSweepVisitsEachChatOnce(t *testing.T) {
	repo := &fakeChatRepo{chats: []*chat.NotificationState{eligibleChat(1, 100)}}
	tt := &scriptedTimetable{hasLesson: alwaysDue}
	tg := &recordingTelegram{}

	svc := newTestService(repo, tt, tg, 5)
	if err := svc.ProcessOffsetSweep(context.Background(), 15*time.Minute); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if len(tg.sent) != 1 {
		t.Errorf("chat received %d notifications in one sweep, want 1", len(tg.sent))
	}
	if len(repo.saved) != 1 || repo.saved[0].Kind != "cl_notif_15m" {
		t.Errorf("saved messages = %+v, want one record of kind cl_notif_15m", repo.saved)
	}
}

func TestSweepAbortsAfterFaultBudget(t *testing.T) {
	var chats []*chat.NotificationState
	for i := int64(1); i <= 10; i++ {
		chats = append(chats, eligibleChat(i, i*100))
	}
	repo := &fakeChatRepo{chats: chats}
	tt := &scriptedTimetable{hasLesson: func(call int, groupID int64) (bool, error) {
		return false, fmt.Errorf("%w: boom", schedule.ErrUpstreamUnavailable)
	}}
	tg := &recordingTelegram{}

	svc := newTestService(repo, tt, tg, 5)
	if err := svc.ProcessOffsetSweep(context.Background(), 15*time.Minute); err != nil {
		t.Fatalf("an aborted sweep must not escalate: %v", err)
	}

	if tt.lookups != 5 {
		t.Errorf("timetable queried %d times, want exactly 5 (budget), chats 6-10 skipped", tt.lookups)
	}
	if len(tg.sent) != 0 {
		t.Errorf("sent %d notifications during a degraded sweep, want 0", len(tg.sent))
	}
}

func TestSweepIsolatesPerChatTransportFailures(t *testing.T) {
	var chats []*chat.NotificationState
	for i := int64(1); i <= 5; i++ {
		chats = append(chats, eligibleChat(i, i*100))
	}
	repo := &fakeChatRepo{chats: chats}
	tt := &scriptedTimetable{hasLesson: alwaysDue}
	tg := &recordingTelegram{errFor: map[int64]error{3: errors.New("telegram: internal server error")}}

	svc := newTestService(repo, tt, tg, 5)
	if err := svc.ProcessOffsetSweep(context.Background(), 15*time.Minute); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if len(tg.sent) != 5 {
		t.Errorf("attempted %d sends, want 5 (chat 3's failure must not block peers)", len(tg.sent))
	}
	if len(repo.saved) != 4 {
		t.Errorf("recorded %d sent messages, want 4", len(repo.saved))
	}
}

func TestSweepMarksBlockedChatUnreachable(t *testing.T) {
	repo := &fakeChatRepo{chats: []*chat.NotificationState{eligibleChat(1, 100), eligibleChat(2, 200)}}
	tt := &scriptedTimetable{hasLesson: alwaysDue}
	tg := &recordingTelegram{errFor: map[int64]error{1: telebot.ErrBlockedByUser}}

	svc := newTestService(repo, tt, tg, 5)
	if err := svc.ProcessOffsetSweep(context.Background(), 15*time.Minute); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if len(repo.unreachable) != 1 || repo.unreachable[0] != 1 {
		t.Errorf("unreachable chats = %v, want [1]", repo.unreachable)
	}
	if len(tg.sent) != 2 {
		t.Errorf("attempted %d sends, want 2 (blocked chat must not abort the sweep)", len(tg.sent))
	}
	if len(repo.saved) != 1 {
		t.Errorf("recorded %d sent messages, want 1", len(repo.saved))
	}
}

func TestSweepCountsDayScheduleFaultsAgainstBudget(t *testing.T) {
	var chats []*chat.NotificationState
	for i := int64(1); i <= 3; i++ {
		chats = append(chats, eligibleChat(i, i*100))
	}
	repo := &fakeChatRepo{chats: chats}
	tt := &scriptedTimetable{
		hasLesson: alwaysDue,
		dayErr:    fmt.Errorf("%w: boom", schedule.ErrUpstreamUnavailable),
	}
	tg := &recordingTelegram{}

	svc := newTestService(repo, tt, tg, 2)
	if err := svc.ProcessOffsetSweep(context.Background(), 15*time.Minute); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if tt.lookups != 2 {
		t.Errorf("timetable queried %d times, want 2 (budget hit via day-schedule faults)", tt.lookups)
	}
	if len(tg.sent) != 0 {
		t.Errorf("sent %d notifications, want 0", len(tg.sent))
	}
}
