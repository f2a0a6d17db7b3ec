package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/timetable-sync/internal/calendar"
	"github.com/tonimelisma/timetable-sync/internal/portal"
)

func parisLoc(t *testing.T) *time.Location {
	t.Helper()

	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	return loc
}

// course builds a session on 2024-03-11 starting at hour.
func course(t *testing.T, id string, hour int) portal.CourseSession {
	t.Helper()

	loc := parisLoc(t)

	return portal.CourseSession{
		ID:      id,
		Subject: "Math",
		Teacher: "M. Dupont",
		Room:    "B12",
		Start:   time.Date(2024, 3, 11, hour, 0, 0, 0, loc),
		End:     time.Date(2024, 3, 11, hour+1, 0, 0, 0, loc),
	}
}

// managed builds an event carrying the marker for courseID.
func managed(eventID, courseID string) calendar.Event {
	return calendar.Event{
		ID:          eventID,
		Title:       "Math",
		Description: "Professeur : M. Dupont\nID: " + courseID,
		Start:       time.Date(2024, 3, 11, 8, 0, 0, 0, time.UTC),
		End:         time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC),
	}
}

// memCalendar is an in-memory Calendar.
type memCalendar struct {
	mu      stdsync.Mutex
	events  map[string]calendar.Event
	nextID  int
	clock   time.Time
	inserts int
	deletes int

	failInsert map[string]error // by course id
	failDelete map[string]error // by event id
	listErr    error
}

func newMemCalendar(events ...calendar.Event) *memCalendar {
	m := &memCalendar{
		events:     make(map[string]calendar.Event),
		clock:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		failInsert: make(map[string]error),
		failDelete: make(map[string]error),
	}

	for _, ev := range events {
		m.events[ev.ID] = ev
	}

	return m
}

func (m *memCalendar) List(_ context.Context, _, _ time.Time) ([]calendar.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listErr != nil {
		return nil, m.listErr
	}

	out := make([]calendar.Event, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}

		return out[i].ID < out[j].ID
	})

	return out, nil
}

func (m *memCalendar) Insert(_ context.Context, ev calendar.Event) (calendar.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := ParseMarker(ev.Description); ok {
		if err := m.failInsert[id]; err != nil {
			return calendar.Event{}, err
		}
	}

	m.nextID++
	m.clock = m.clock.Add(time.Second)
	ev.ID = fmt.Sprintf("new%d", m.nextID)
	ev.Created = m.clock
	m.events[ev.ID] = ev
	m.inserts++

	return ev, nil
}

func (m *memCalendar) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failDelete[id]; err != nil {
		return err
	}

	delete(m.events, id)
	m.deletes++

	return nil
}

func (m *memCalendar) mutations() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.inserts + m.deletes
}

// managedIDs returns course id -> number of events carrying it.
func (m *memCalendar) managedIDs() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]int)

	for _, ev := range m.events {
		if id, ok := ParseMarker(ev.Description); ok {
			out[id]++
		}
	}

	return out
}

var errBoom = errors.New("boom")

// staticAuth returns a fixed identity or error.
type staticAuth struct {
	id    *portal.Identity
	err   error
	calls int
}

func (a *staticAuth) Authenticate(context.Context) (*portal.Identity, error) {
	a.calls++

	if a.err != nil {
		return nil, a.err
	}

	return a.id, nil
}

// staticSchedule returns fixed sessions and records the requested range.
type staticSchedule struct {
	courses   []portal.CourseSession
	err       error
	gotToken  string
	gotID     int64
	gotStart  time.Time
	gotEnd    time.Time
	callCount int
}

func (s *staticSchedule) Fetch(_ context.Context, token string, studentID int64, start, end time.Time) ([]portal.CourseSession, error) {
	s.callCount++
	s.gotToken, s.gotID, s.gotStart, s.gotEnd = token, studentID, start, end

	if s.err != nil {
		return nil, s.err
	}

	return s.courses, nil
}
