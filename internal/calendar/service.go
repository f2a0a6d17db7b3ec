// Package calendar is the Google Calendar side of the sync: listing the
// events of a window, inserting and deleting events, and the OAuth flow
// that authorizes it.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const pageSize = 250

// Event is the subset of a calendar event the sync reads and writes.
type Event struct {
	ID          string
	Title       string
	Location    string
	Description string
	Start       time.Time
	End         time.Time
	Created     time.Time
}

// Service wraps the Calendar API for one calendar. Every request waits on
// a shared rate limiter to stay under the per-user quota.
type Service struct {
	api        *gcal.Service
	calendarID string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewService creates a Service for calendarID. httpClient must carry the
// OAuth credentials; opts are appended after it (tests pass an endpoint).
// rps <= 0 disables rate limiting.
func NewService(
	ctx context.Context,
	calendarID string,
	httpClient *http.Client,
	rps float64,
	logger *slog.Logger,
	opts ...option.ClientOption,
) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	all := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)

	api, err := gcal.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("calendar: creating service: %w", err)
	}

	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}

	return &Service{
		api:        api,
		calendarID: calendarID,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}, nil
}

// CalendarID returns the target calendar.
func (s *Service) CalendarID() string {
	return s.calendarID
}

// List returns the events overlapping [timeMin, timeMax), recurring events
// expanded, ordered by start.
func (s *Service) List(ctx context.Context, timeMin, timeMax time.Time) ([]Event, error) {
	call := s.api.Events.List(s.calendarID).
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(pageSize)

	var events []Event

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("calendar: listing events: %w", err)
	}

	err := call.Pages(ctx, func(page *gcal.Events) error {
		for _, item := range page.Items {
			ev, err := fromAPI(item)
			if err != nil {
				s.logger.Warn("skipping unreadable calendar event",
					slog.String("event_id", item.Id),
					slog.String("error", err.Error()),
				)

				continue
			}

			events = append(events, ev)
		}

		// Pages requests the next page on its own.
		return s.limiter.Wait(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("calendar: listing events: %w", err)
	}

	s.logger.Debug("calendar events listed",
		slog.Time("from", timeMin),
		slog.Time("to", timeMax),
		slog.Int("count", len(events)),
	)

	return events, nil
}

// Insert creates ev and returns it with the service-assigned ID. The
// timezone of ev.Start is sent explicitly so naive local times are not
// read as UTC.
func (s *Service) Insert(ctx context.Context, ev Event) (Event, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return Event{}, fmt.Errorf("calendar: inserting event: %w", err)
	}

	created, err := s.api.Events.Insert(s.calendarID, toAPI(ev)).Context(ctx).Do()
	if err != nil {
		return Event{}, fmt.Errorf("calendar: inserting event %q: %w", ev.Title, err)
	}

	out, err := fromAPI(created)
	if err != nil {
		// The insert went through; report what was sent with the new ID.
		ev.ID = created.Id
		return ev, nil //nolint:nilerr // echo of our own payload is good enough
	}

	return out, nil
}

// Delete removes the event. An event that is already gone counts as
// deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("calendar: deleting event: %w", err)
	}

	err := s.api.Events.Delete(s.calendarID, id).Context(ctx).Do()
	if err != nil && !IsGone(err) {
		return fmt.Errorf("calendar: deleting event %s: %w", id, err)
	}

	if err != nil {
		s.logger.Debug("event already gone", slog.String("event_id", id))
	}

	return nil
}

// IsGone reports whether err is a 404 or 410 from the Calendar API.
func IsGone(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}

	return apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone
}

func toAPI(ev Event) *gcal.Event {
	tz := ev.Start.Location().String()

	return &gcal.Event{
		Summary:     ev.Title,
		Location:    ev.Location,
		Description: ev.Description,
		Start:       &gcal.EventDateTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: tz},
		End:         &gcal.EventDateTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: tz},
	}
}

func fromAPI(item *gcal.Event) (Event, error) {
	start, err := parseEventTime(item.Start)
	if err != nil {
		return Event{}, fmt.Errorf("start: %w", err)
	}

	end, err := parseEventTime(item.End)
	if err != nil {
		return Event{}, fmt.Errorf("end: %w", err)
	}

	ev := Event{
		ID:          item.Id,
		Title:       item.Summary,
		Location:    item.Location,
		Description: item.Description,
		Start:       start,
		End:         end,
	}

	if item.Created != "" {
		if created, err := time.Parse(time.RFC3339, item.Created); err == nil {
			ev.Created = created
		}
	}

	return ev, nil
}

// parseEventTime handles timed events and all-day events (date only).
func parseEventTime(dt *gcal.EventDateTime) (time.Time, error) {
	if dt == nil {
		return time.Time{}, errors.New("missing")
	}

	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			return time.Time{}, err
		}

		if loc, locErr := time.LoadLocation(dt.TimeZone); dt.TimeZone != "" && locErr == nil {
			t = t.In(loc)
		}

		return t, nil
	}

	return time.Parse(time.DateOnly, dt.Date)
}
