package sync

import (
	"sort"

	"github.com/tonimelisma/timetable-sync/internal/calendar"
)

// Matcher indexes the managed events of a window by their embedded course
// id. Events without a marker are counted and otherwise ignored.
type Matcher struct {
	byID      map[string][]calendar.Event
	order     []string // ids in first-seen order
	unmanaged int
}

// NewMatcher builds the index. Events sharing an id are ordered earliest
// created first, ties broken by event id; an unknown creation time sorts
// last.
func NewMatcher(events []calendar.Event) *Matcher {
	m := &Matcher{byID: make(map[string][]calendar.Event)}

	for i := range events {
		id, ok := ParseMarker(events[i].Description)
		if !ok {
			m.unmanaged++
			continue
		}

		if _, seen := m.byID[id]; !seen {
			m.order = append(m.order, id)
		}

		m.byID[id] = append(m.byID[id], events[i])
	}

	for _, group := range m.byID {
		if len(group) > 1 {
			sort.SliceStable(group, func(a, b int) bool {
				return createdBefore(group[a], group[b])
			})
		}
	}

	return m
}

func createdBefore(a, b calendar.Event) bool {
	switch {
	case a.Created.IsZero() != b.Created.IsZero():
		return !a.Created.IsZero()
	case !a.Created.Equal(b.Created):
		return a.Created.Before(b.Created)
	default:
		return a.ID < b.ID
	}
}

// Match returns the event carrying courseID and any extra events carrying
// the same id. ok is false when no managed event carries it.
func (m *Matcher) Match(courseID string) (primary calendar.Event, extras []calendar.Event, ok bool) {
	group := m.byID[courseID]
	if len(group) == 0 {
		return calendar.Event{}, nil, false
	}

	return group[0], group[1:], true
}

// IDs returns every course id carried by a managed event, in the order the
// events were listed.
func (m *Matcher) IDs() []string {
	return m.order
}

// Events returns all managed events carrying courseID.
func (m *Matcher) Events(courseID string) []calendar.Event {
	return m.byID[courseID]
}

// Unmanaged returns how many events carried no marker.
func (m *Matcher) Unmanaged() int {
	return m.unmanaged
}
