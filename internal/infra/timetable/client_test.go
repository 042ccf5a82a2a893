package timetable

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cubicbyte/dteubot-sub000/internal/domain/schedule"

	"github.com/sirupsen/logrus"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	c := NewClient(srv.URL, 2*time.Second, time.UTC, l.WithField("component", "test"))
	return c
}

func TestGetCallSchedule(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/time-table/call-schedule" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`[
			{"number": 1, "timeStart": "08:20", "timeEnd": "09:40"},
			{"number": 2, "timeStart": "10:05", "timeEnd": "11:25"}
		]`))
	})

	periods, err := c.GetCallSchedule(context.Background())
	if err != nil {
		t.Fatalf("get call schedule: %v", err)
	}
	if len(periods) != 2 {
		t.Fatalf("got %d periods, want 2", len(periods))
	}
	want := schedule.ClockTime{Hour: 10, Minute: 5}
	if periods[1].TimeStart != want {
		t.Errorf("period 2 starts at %s, want %s", periods[1].TimeStart, want)
	}
}

func TestGetCallScheduleRejectsEmpty(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	if _, err := c.GetCallSchedule(context.Background()); err == nil {
		t.Fatal("empty call schedule must be an error")
	}
}

func TestServerErrorIsUpstreamFault(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.GetCallSchedule(context.Background())
	if !errors.Is(err, schedule.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestRateLimitIsUpstreamFault(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.GetCallSchedule(context.Background())
	if !errors.Is(err, schedule.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestTransportErrorIsUpstreamFault(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // connection refused from here on

	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	c := NewClient(srv.URL, time.Second, time.UTC, l.WithField("component", "test"))

	_, err := c.GetCallSchedule(context.Background())
	if !errors.Is(err, schedule.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestClientErrorIsNotUpstreamFault(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := c.GetCallSchedule(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, schedule.ErrUpstreamUnavailable) {
		t.Fatalf("HTTP 400 must not count as an upstream fault: %v", err)
	}
}

const groupScheduleBody = `[
	{
		"date": "2025-09-01",
		"lessons": [
			{"number": 1, "periods": [
				{"disciplineFullName": "Вища математика", "typeStr": "Лек", "timeStart": "10:05", "timeEnd": "11:25", "teachersNameFull": "Іваненко І. І.", "classroom": "А-101"}
			]}
		]
	}
]`

func TestHasLessonInInterval(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/time-table/group" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(groupScheduleBody))
	})

	cases := []struct {
		name   string
		now    time.Time
		within time.Duration
		want   bool
	}{
		{"lesson inside window", time.Date(2025, 9, 1, 9, 50, 0, 0, time.UTC), 16 * time.Minute, true},
		{"lesson past window", time.Date(2025, 9, 1, 9, 30, 0, 0, time.UTC), 16 * time.Minute, false},
		{"lesson already started", time.Date(2025, 9, 1, 10, 10, 0, 0, time.UTC), 16 * time.Minute, false},
		{"start exactly at now", time.Date(2025, 9, 1, 10, 5, 0, 0, time.UTC), 16 * time.Minute, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c.now = func() time.Time { return tc.now }
			got, err := c.HasLessonInInterval(context.Background(), 1337, tc.within)
			if err != nil {
				t.Fatalf("has lesson: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestGetDaySchedule(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(groupScheduleBody))
	})

	day, err := c.GetDaySchedule(context.Background(), 1337, time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("get day schedule: %v", err)
	}
	if len(day.Lessons) != 1 {
		t.Fatalf("got %d lessons, want 1", len(day.Lessons))
	}
	p := day.Lessons[0].Periods[0]
	if p.DisciplineFullName != "Вища математика" || p.Classroom != "А-101" {
		t.Errorf("unexpected period: %+v", p)
	}
}

func TestGetDayScheduleMissingDayIsEmpty(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	day, err := c.GetDaySchedule(context.Background(), 1337, time.Date(2025, 9, 7, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("get day schedule: %v", err)
	}
	if len(day.Lessons) != 0 {
		t.Errorf("got %d lessons on a free day, want 0", len(day.Lessons))
	}
}
