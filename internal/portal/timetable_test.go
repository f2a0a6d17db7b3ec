package portal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paris(t *testing.T) *time.Location {
	t.Helper()

	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	return loc
}

func newTimetableServer(t *testing.T, handler http.HandlerFunc) *Timetable {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewTimetable(newTestClient(t, srv.URL), paris(t), testLogger(t))
}

func TestFetch_DecodesSessions(t *testing.T) {
	tt := newTimetableServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/E/4242/emploidutemps.awp", r.URL.Path)
		assert.Equal(t, "get", r.URL.Query().Get("verbe"))
		assert.Equal(t, "tok", r.Header.Get("X-Token"))

		data := formData(t, r)
		assert.Equal(t, "2024-03-11", data["dateDebut"])
		assert.Equal(t, "2024-03-17", data["dateFin"])
		assert.Equal(t, "tok", data["token"])

		writeEnvelope(w, 200, "", []map[string]any{
			{
				"id": 2, "matiere": "MATHEMATIQUES", "prof": " M. Dupont ", "salle": "B12",
				"start_date": "2024-03-11 08:00", "end_date": "2024-03-11 09:00",
			},
			{
				"id": 7, "matiere": "", "text": "Sortie", "prof": "", "salle": "",
				"start_date": "2024-03-12 14:00", "end_date": "2024-03-12 16:00",
				"isAnnule": true, "isModifie": true,
			},
		})
	})

	loc := paris(t)
	start := time.Date(2024, 3, 11, 0, 0, 0, 0, loc)

	sessions, err := tt.Fetch(context.Background(), "tok", 4242, start, start.AddDate(0, 0, 6))
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	first := sessions[0]
	assert.Equal(t, "2", first.ID)
	assert.Equal(t, "MATHEMATIQUES", first.Subject)
	assert.Equal(t, "M. Dupont", first.Teacher)
	assert.Equal(t, "B12", first.Room)
	assert.True(t, first.Start.Equal(time.Date(2024, 3, 11, 8, 0, 0, 0, loc)))
	assert.True(t, first.End.Equal(time.Date(2024, 3, 11, 9, 0, 0, 0, loc)))
	assert.False(t, first.Cancelled)

	second := sessions[1]
	assert.Equal(t, "7", second.ID)
	assert.Equal(t, "Sortie", second.Subject)
	assert.True(t, second.Cancelled)
	assert.True(t, second.Modified)
}

func TestFetch_DatesFormattedInPortalZone(t *testing.T) {
	tt := newTimetableServer(t, func(w http.ResponseWriter, r *http.Request) {
		data := formData(t, r)
		// 23:30 UTC on the 10th is already the 11th in Paris.
		assert.Equal(t, "2024-03-11", data["dateDebut"])
		writeEnvelope(w, 200, "", []any{})
	})

	start := time.Date(2024, 3, 10, 23, 30, 0, 0, time.UTC)

	sessions, err := tt.Fetch(context.Background(), "tok", 1, start, start.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestFetch_TokenRejected(t *testing.T) {
	tt := newTimetableServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, 525, "", nil)
	})

	now := time.Now()

	_, err := tt.Fetch(context.Background(), "tok", 1, now, now)
	require.ErrorIs(t, err, ErrScheduleFetch)

	var pe *PortalError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 525, pe.Code)
	assert.Contains(t, pe.Message, "token rejected")
}

func TestFetch_InvalidRecordFailsWholeFetch(t *testing.T) {
	tests := []struct {
		name   string
		record map[string]any
	}{
		{"missing id", map[string]any{"start_date": "2024-03-11 08:00", "end_date": "2024-03-11 09:00"}},
		{"bad start", map[string]any{"id": 1, "start_date": "11/03/2024", "end_date": "2024-03-11 09:00"}},
		{"missing end", map[string]any{"id": 1, "start_date": "2024-03-11 08:00"}},
		{"inverted", map[string]any{"id": 1, "start_date": "2024-03-11 10:00", "end_date": "2024-03-11 09:00"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tt := newTimetableServer(t, func(w http.ResponseWriter, _ *http.Request) {
				writeEnvelope(w, 200, "", []map[string]any{
					{"id": 9, "matiere": "OK", "start_date": "2024-03-11 08:00", "end_date": "2024-03-11 09:00"},
					tc.record,
				})
			})

			now := time.Now()

			sessions, err := tt.Fetch(context.Background(), "tok", 1, now, now)
			require.ErrorIs(t, err, ErrScheduleData)
			require.ErrorIs(t, err, ErrScheduleFetch)
			assert.Nil(t, sessions)
		})
	}
}

func TestFetch_MissingData(t *testing.T) {
	tt := newTimetableServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, 200, "", nil)
	})

	now := time.Now()

	_, err := tt.Fetch(context.Background(), "tok", 1, now, now)
	require.ErrorIs(t, err, ErrScheduleData)
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestFetch_InvertedWindow(t *testing.T) {
	tt := NewTimetable(NewClient("http://unused", nil, "", nil), paris(t), nil)
	now := time.Now()

	_, err := tt.Fetch(context.Background(), "tok", 1, now, now.AddDate(0, 0, -2))
	require.Error(t, err)
}
