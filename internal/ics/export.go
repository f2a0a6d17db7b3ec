// Package ics renders fetched course sessions as an iCalendar file, using
// the same title, location and description mapping as calendar sync.
package ics

import (
	"fmt"
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/tonimelisma/timetable-sync/internal/portal"
	"github.com/tonimelisma/timetable-sync/internal/sync"
)

const (
	productID = "-//timetable-sync//Timetable Export//FR"
	uidDomain = "timetable-sync"
)

// Exporter builds iCalendar documents from course sessions.
type Exporter struct {
	mapper *sync.Mapper
	name   string
	loc    *time.Location

	nowFunc func() time.Time
}

// NewExporter creates an Exporter. name becomes the calendar display name
// and loc its advertised timezone.
func NewExporter(mapper *sync.Mapper, name string, loc *time.Location) *Exporter {
	if loc == nil {
		loc = time.Local
	}

	return &Exporter{mapper: mapper, name: name, loc: loc, nowFunc: time.Now}
}

// Calendar returns the document for courses. Every session becomes one
// VEVENT whose UID derives from the course id, so re-importing an export
// updates events instead of duplicating them. Cancelled sessions carry
// STATUS:CANCELLED.
func (e *Exporter) Calendar(courses []portal.CourseSession) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetXWRCalName(e.name)
	cal.SetXWRTimezone(e.loc.String())

	stamp := e.nowFunc().UTC()

	for i := range courses {
		c := &courses[i]
		ev := e.mapper.Event(c)

		vev := cal.AddEvent(UID(c.ID))
		vev.SetDtStampTime(stamp)
		vev.SetStartAt(ev.Start)
		vev.SetEndAt(ev.End)
		vev.SetSummary(ev.Title)
		vev.SetLocation(ev.Location)
		vev.SetDescription(ev.Description)

		if c.Cancelled {
			vev.SetStatus(ical.ObjectStatusCancelled)
		} else {
			vev.SetStatus(ical.ObjectStatusConfirmed)
		}
	}

	return cal
}

// Write serializes the document for courses to w.
func (e *Exporter) Write(w io.Writer, courses []portal.CourseSession) error {
	if err := e.Calendar(courses).SerializeTo(w); err != nil {
		return fmt.Errorf("ics: writing calendar: %w", err)
	}

	return nil
}

// UID returns the iCalendar UID for a course id.
func UID(courseID string) string {
	return courseID + "@" + uidDomain
}
