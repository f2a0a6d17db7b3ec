package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Portal timestamp and date layouts. Timestamps are naive local times in
// the school's timezone.
const (
	timestampLayout = "2006-01-02 15:04"
	dateLayout      = "2006-01-02"
)

// CourseSession is one scheduled class as reported by the portal.
type CourseSession struct {
	ID        string // stable identifier from the portal
	Subject   string
	Teacher   string
	Room      string
	Start     time.Time
	End       time.Time
	Cancelled bool
	Modified  bool
}

type timetablePayload struct {
	Token string `json:"token"`
	Start string `json:"dateDebut"`
	End   string `json:"dateFin"`
}

type rawCourse struct {
	ID        json.Number `json:"id"`
	Subject   string      `json:"matiere"`
	Text      string      `json:"text"`
	Teacher   string      `json:"prof"`
	Room      string      `json:"salle"`
	Start     string      `json:"start_date"`
	End       string      `json:"end_date"`
	Cancelled bool        `json:"isAnnule"`
	Modified  bool        `json:"isModifie"`
}

// Timetable fetches course sessions for a student.
type Timetable struct {
	client *Client
	loc    *time.Location
	logger *slog.Logger
}

// NewTimetable creates a fetcher that interprets portal timestamps in loc.
func NewTimetable(client *Client, loc *time.Location, logger *slog.Logger) *Timetable {
	if logger == nil {
		logger = slog.Default()
	}

	if loc == nil {
		loc = time.Local
	}

	return &Timetable{client: client, loc: loc, logger: logger}
}

// Location returns the timezone portal timestamps are interpreted in.
func (t *Timetable) Location() *time.Location {
	return t.loc
}

// Fetch returns the sessions between the calendar dates of start and end,
// both inclusive, in the order the portal listed them. Any invalid record
// fails the whole fetch: partial schedules are never returned.
func (t *Timetable) Fetch(
	ctx context.Context, token string, studentID int64, start, end time.Time,
) ([]CourseSession, error) {
	from := start.In(t.loc).Format(dateLayout)
	to := end.In(t.loc).Format(dateLayout)

	if to < from {
		return nil, fmt.Errorf("portal: timetable window ends (%s) before it starts (%s)", to, from)
	}

	path := fmt.Sprintf("/E/%d/emploidutemps.awp?verbe=get", studentID)

	env, err := t.client.Post(ctx, path, token, timetablePayload{Token: token, Start: from, End: to})
	if err != nil {
		return nil, err
	}

	if env.Code != codeOK {
		msg := env.Message
		if isTokenRejected(env.Code) {
			msg = strings.TrimSpace("token rejected " + msg)
		}

		return nil, &PortalError{Code: env.Code, Message: msg, Err: ErrScheduleFetch}
	}

	var raw []rawCourse
	if err := decodeData(env, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScheduleData, err)
	}

	sessions := make([]CourseSession, 0, len(raw))

	for i := range raw {
		cs, err := t.convert(&raw[i])
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", ErrScheduleData, i, err)
		}

		sessions = append(sessions, cs)
	}

	t.logger.Info("timetable fetched",
		slog.String("from", from),
		slog.String("to", to),
		slog.Int("sessions", len(sessions)),
	)

	return sessions, nil
}

func (t *Timetable) convert(r *rawCourse) (CourseSession, error) {
	id := r.ID.String()
	if id == "" {
		return CourseSession{}, fmt.Errorf("missing id")
	}

	start, err := time.ParseInLocation(timestampLayout, r.Start, t.loc)
	if err != nil {
		return CourseSession{}, fmt.Errorf("id %s: start_date: %w", id, err)
	}

	end, err := time.ParseInLocation(timestampLayout, r.End, t.loc)
	if err != nil {
		return CourseSession{}, fmt.Errorf("id %s: end_date: %w", id, err)
	}

	if end.Before(start) {
		return CourseSession{}, fmt.Errorf("id %s: ends before it starts", id)
	}

	subject := strings.TrimSpace(r.Subject)
	if subject == "" {
		subject = strings.TrimSpace(r.Text)
	}

	return CourseSession{
		ID:        id,
		Subject:   subject,
		Teacher:   strings.TrimSpace(r.Teacher),
		Room:      strings.TrimSpace(r.Room),
		Start:     start,
		End:       end,
		Cancelled: r.Cancelled,
		Modified:  r.Modified,
	}, nil
}
