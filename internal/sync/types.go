// Package sync reconciles a portal timetable with the calendar events this
// tool created earlier: it matches sessions to events by an embedded id
// marker, plans create/delete/no-op actions, applies them, and supervises
// repeated runs.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tonimelisma/timetable-sync/internal/calendar"
	"github.com/tonimelisma/timetable-sync/internal/portal"
)

// Sentinel errors.
var (
	// ErrCalendarOperation wraps a failed create or delete. Recovered: the
	// run continues and the failure is counted in the Report.
	ErrCalendarOperation = errors.New("sync: calendar operation failed")

	// ErrCalendarList means the window's events could not be listed. Fatal
	// to the run: planning without the current state would duplicate events.
	ErrCalendarList = errors.New("sync: listing calendar events failed")

	// ErrAuthExhausted is returned by the supervisor after too many
	// consecutive authentication failures.
	ErrAuthExhausted = errors.New("sync: authentication attempts exhausted")

	// ErrRunsExhausted is returned by the supervisor after too many
	// consecutive failed runs of any other kind.
	ErrRunsExhausted = errors.New("sync: consecutive run failures exhausted")
)

// ActionType is the kind of calendar change an Action makes.
type ActionType int

// Action types. A modified session is a Delete followed by a Create; there
// is no in-place update.
const (
	ActionNoOp ActionType = iota
	ActionCreate
	ActionDelete
)

func (t ActionType) String() string {
	switch t {
	case ActionNoOp:
		return "noop"
	case ActionCreate:
		return "create"
	case ActionDelete:
		return "delete"
	default:
		return fmt.Sprintf("ActionType(%d)", int(t))
	}
}

// DeleteReason says why a managed event is being removed.
type DeleteReason string

// Delete reasons.
const (
	ReasonReplaced  DeleteReason = "replaced"  // session modified, replacement follows
	ReasonObsolete  DeleteReason = "obsolete"  // sweep: session no longer reported
	ReasonDuplicate DeleteReason = "duplicate" // extra event carrying an id already matched
)

// Action is one planned step.
type Action struct {
	Type     ActionType
	Reason   DeleteReason // deletes only
	CourseID string

	// Event is the existing calendar event (NoOp, Delete).
	Event *calendar.Event

	// Desired is the event to insert (Create).
	Desired *calendar.Event
}

// Window is a closed range of calendar dates. Start and End are midnight
// in the portal's timezone.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow returns the window starting on the date of from and covering
// days more dates after it.
func NewWindow(from time.Time, days int, loc *time.Location) Window {
	from = from.In(loc)
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)

	return Window{Start: start, End: start.AddDate(0, 0, days)}
}

// Until is the exclusive instant closing the window: midnight after End.
func (w Window) Until() time.Time {
	return w.End.AddDate(0, 0, 1)
}

func (w Window) String() string {
	return w.Start.Format(time.DateOnly) + ".." + w.End.Format(time.DateOnly)
}

// SyncPlan is the ordered list of actions for one window. Course actions
// come first in fetch order, the sweep last.
type SyncPlan struct {
	Window  Window
	Actions []Action
}

// Count returns the number of actions of type t.
func (p *SyncPlan) Count(t ActionType) int {
	n := 0

	for i := range p.Actions {
		if p.Actions[i].Type == t {
			n++
		}
	}

	return n
}

// Mutations returns the number of actions that change the calendar.
func (p *SyncPlan) Mutations() int {
	return len(p.Actions) - p.Count(ActionNoOp)
}

// Calendar is the calendar service the executor mutates. Satisfied by
// *calendar.Service.
type Calendar interface {
	List(ctx context.Context, timeMin, timeMax time.Time) ([]calendar.Event, error)
	Insert(ctx context.Context, ev calendar.Event) (calendar.Event, error)
	Delete(ctx context.Context, id string) error
}

// Authenticator yields a portal identity. Satisfied by *portal.Session.
type Authenticator interface {
	Authenticate(ctx context.Context) (*portal.Identity, error)
}

// ScheduleFetcher retrieves course sessions. Satisfied by *portal.Timetable.
type ScheduleFetcher interface {
	Fetch(ctx context.Context, token string, studentID int64, start, end time.Time) ([]portal.CourseSession, error)
}
