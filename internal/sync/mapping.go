package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tonimelisma/timetable-sync/internal/calendar"
	"github.com/tonimelisma/timetable-sync/internal/portal"
)

// Mapping defaults.
const (
	DefaultCancelledSuffix     = " (Annulé)"
	DefaultLocationPlaceholder = "Salle non définie"

	revBytes = 4
)

// MappingOptions control how a session is rendered as an event.
type MappingOptions struct {
	CancelledSuffix     string
	LocationPlaceholder string
	TitleCaseSubjects   bool
}

// Mapper renders course sessions as calendar events.
type Mapper struct {
	opts MappingOptions
}

// NewMapper creates a Mapper. Empty options fall back to the defaults.
func NewMapper(opts MappingOptions) *Mapper {
	if opts.CancelledSuffix == "" {
		opts.CancelledSuffix = DefaultCancelledSuffix
	}

	if opts.LocationPlaceholder == "" {
		opts.LocationPlaceholder = DefaultLocationPlaceholder
	}

	return &Mapper{opts: opts}
}

// Event returns the calendar event for c. Start and End keep the
// session's location so the timezone is sent explicitly.
func (m *Mapper) Event(c *portal.CourseSession) calendar.Event {
	title := c.Subject
	if m.opts.TitleCaseSubjects {
		title = cases.Title(language.French).String(title)
	}

	if c.Cancelled {
		title += m.opts.CancelledSuffix
	}

	location := c.Room
	if location == "" {
		location = m.opts.LocationPlaceholder
	}

	rev := revision(title, location, c.Teacher, c.Start, c.End)

	return calendar.Event{
		Title:       title,
		Location:    location,
		Description: FormatDescription(c.Teacher, c.ID, rev),
		Start:       c.Start,
		End:         c.End,
	}
}

// revision fingerprints the rendered content of an event.
func revision(title, location, teacher string, start, end time.Time) string {
	h := sha256.New()

	for _, part := range []string{
		title, location, teacher,
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil)[:revBytes])
}
