package timetable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cubicbyte/dteubot-sub000/internal/domain/schedule"

	"github.com/sirupsen/logrus"
)

const apiDateLayout = "2006-01-02"

// Client talks to the university timetable API. Network errors, timeouts and
// 5xx/429 responses are reported wrapping schedule.ErrUpstreamUnavailable so
// the sweep can budget them; anything else is a plain error.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	loc     *time.Location
	logger  *logrus.Entry

	now func() time.Time // overridable in tests
}

func NewClient(baseURL string, timeout time.Duration, loc *time.Location, logger *logrus.Entry) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
		timeout: timeout,
		loc:     loc,
		logger:  logger,
		now:     time.Now,
	}
}

// GetCallSchedule returns the institution's fixed daily bell schedule.
func (c *Client) GetCallSchedule(ctx context.Context) ([]schedule.CallPeriod, error) {
	var raw []struct {
		Number    int    `json:"number"`
		TimeStart string `json:"timeStart"`
		TimeEnd   string `json:"timeEnd"`
	}
	if err := c.post(ctx, "/time-table/call-schedule", struct{}{}, &raw); err != nil {
		return nil, err
	}

	periods := make([]schedule.CallPeriod, 0, len(raw))
	for _, p := range raw {
		start, err := schedule.ParseClockTime(p.TimeStart)
		if err != nil {
			return nil, fmt.Errorf("call schedule period %d: %w", p.Number, err)
		}
		end, err := schedule.ParseClockTime(p.TimeEnd)
		if err != nil {
			return nil, fmt.Errorf("call schedule period %d: %w", p.Number, err)
		}
		periods = append(periods, schedule.CallPeriod{Number: p.Number, TimeStart: start, TimeEnd: end})
	}
	if len(periods) == 0 {
		return nil, fmt.Errorf("call schedule is empty")
	}
	return periods, nil
}

// GetDaySchedule returns the group's timetable for a single day. A day with
// no lessons yields an empty ScheduleDay, not an error.
func (c *Client) GetDaySchedule(ctx context.Context, groupID int64, day time.Time) (*schedule.ScheduleDay, error) {
	days, err := c.getGroupSchedule(ctx, groupID, day, day)
	if err != nil {
		return nil, err
	}
	for i := range days {
		if sameDate(days[i].Date, day) {
			return &days[i], nil
		}
	}
	return &schedule.ScheduleDay{Date: day}, nil
}

// HasLessonInInterval reports whether the group has a lesson whose start falls
// within [now, now+within). Fetches today and tomorrow so an interval crossing
// midnight is still covered.
func (c *Client) HasLessonInInterval(ctx context.Context, groupID int64, within time.Duration) (bool, error) {
	now := c.now().In(c.loc)
	days, err := c.getGroupSchedule(ctx, groupID, now, now.AddDate(0, 0, 1))
	if err != nil {
		return false, err
	}

	deadline := now.Add(within)
	for _, d := range days {
		for _, lesson := range d.Lessons {
			for _, p := range lesson.Periods {
				start := p.TimeStart.On(d.Date, c.loc)
				if !start.Before(now) && start.Before(deadline) {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

func (c *Client) getGroupSchedule(ctx context.Context, groupID int64, dateStart, dateEnd time.Time) ([]schedule.ScheduleDay, error) {
	req := struct {
		GroupID   int64  `json:"groupId"`
		DateStart string `json:"dateStart"`
		DateEnd   string `json:"dateEnd"`
	}{
		GroupID:   groupID,
		DateStart: dateStart.In(c.loc).Format(apiDateLayout),
		DateEnd:   dateEnd.In(c.loc).Format(apiDateLayout),
	}

	var raw []struct {
		Date    string `json:"date"`
		Lessons []struct {
			Number  int `json:"number"`
			Periods []struct {
				DisciplineFullName string `json:"disciplineFullName"`
				TypeStr            string `json:"typeStr"`
				TimeStart          string `json:"timeStart"`
				TimeEnd            string `json:"timeEnd"`
				TeachersNameFull   string `json:"teachersNameFull"`
				Classroom          string `json:"classroom"`
			} `json:"periods"`
		} `json:"lessons"`
	}
	if err := c.post(ctx, "/time-table/group", req, &raw); err != nil {
		return nil, err
	}

	days := make([]schedule.ScheduleDay, 0, len(raw))
	for _, d := range raw {
		date, err := time.ParseInLocation(apiDateLayout, d.Date, c.loc)
		if err != nil {
			return nil, fmt.Errorf("group schedule day %q: %w", d.Date, err)
		}
		day := schedule.ScheduleDay{Date: date}
		for _, l := range d.Lessons {
			lesson := schedule.Lesson{Number: l.Number}
			for _, p := range l.Periods {
				start, err := schedule.ParseClockTime(p.TimeStart)
				if err != nil {
					return nil, fmt.Errorf("group schedule day %q lesson %d: %w", d.Date, l.Number, err)
				}
				end, err := schedule.ParseClockTime(p.TimeEnd)
				if err != nil {
					return nil, fmt.Errorf("group schedule day %q lesson %d: %w", d.Date, l.Number, err)
				}
				lesson.Periods = append(lesson.Periods, schedule.LessonPeriod{
					DisciplineFullName: p.DisciplineFullName,
					TypeStr:            p.TypeStr,
					TimeStart:          start,
					TimeEnd:            end,
					TeachersName:       p.TeachersNameFull,
					Classroom:          p.Classroom,
				})
			}
			day.Lessons = append(day.Lessons, lesson)
		}
		days = append(days, day)
	}
	return days, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request for %s: %w", path, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.WithField("path", path).Debug("Timetable API request")
	resp, err := c.http.Do(req)
	if err != nil {
		// Transport failures and timeouts are systemic upstream faults.
		return fmt.Errorf("%w: %s: %v", schedule.ErrUpstreamUnavailable, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s returned HTTP %d", schedule.ErrUpstreamUnavailable, path, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("unexpected HTTP %d from %s: %s", resp.StatusCode, path, snippet)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
