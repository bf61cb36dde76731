package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/solmeal/internal/slots"
	"github.com/roach88/solmeal/internal/window"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(HTTPConfig{BaseURL: srv.URL + "/", APIKey: "secret", Timeout: 2 * time.Second})
}

func TestIntervals_ParsesClampsAndMerges(t *testing.T) {
	var gotBody []int64
	var gotAuth string
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/timetable/users", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = io.WriteString(w, `{
			"success": true,
			"message": "ok",
			"timetables": [
				{"userId": 1, "lectures": [
					{"dayOfWeek": 0, "startTime": "09:00:00", "endTime": "10:30:00"},
					{"dayOfWeek": 0, "startTime": "10:00", "endTime": "11:00"},
					{"dayOfWeek": 2, "startTime": "23:00", "endTime": "24:00"},
					{"dayOfWeek": 3, "startTime": "12:00", "endTime": "11:00"},
					{"dayOfWeek": 4, "startTime": "bogus", "endTime": "11:00"},
					{"startTime": "08:00", "endTime": "09:00"}
				]},
				{"lectures": [{"dayOfWeek": 0, "startTime": "09:00", "endTime": "10:00"}]}
			]
		}`)
	})

	got, err := client.Intervals(context.Background(), []int64{1, 2})
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2}, gotBody)
	assert.Equal(t, "Bearer secret", gotAuth)
	require.Len(t, got, 1)
	assert.Equal(t, []slots.Interval{{StartMin: 540, EndMin: 660}}, got[1][0])
	assert.Equal(t, []slots.Interval{{StartMin: 1380, EndMin: slots.MinutesPerDay}}, got[1][2])
	assert.NotContains(t, got[1], 3)
	assert.NotContains(t, got[1], 4)
}

func TestIntervals_EmptyInputSkipsRequest(t *testing.T) {
	called := false
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	got, err := client.Intervals(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.False(t, called)
}

func TestLocate_SendsAnchors(t *testing.T) {
	var got []map[string]any
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/timetable/users/locations", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `[{"userId": 7, "latitude": 37.5, "longitude": 127.0}]`)
	})

	locs, err := client.Locate(context.Background(), []MealAnchorRequest{
		{UserID: 7, DayOfWeek: 1, EndTime: window.ClockTime{Day: 1, Hour: 11, Minute: 45}},
	})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, float64(7), got[0]["userId"])
	assert.Equal(t, float64(1), got[0]["dayOfWeek"])
	assert.Equal(t, "11:45:00", got[0]["endTime"])
	assert.Equal(t, []Location{{UserID: 7, Lat: 37.5, Lng: 127.0}}, locs)
}

func TestLocate_RejectsIncompleteItems(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"userId": 7, "latitude": 37.5}]`)
	})

	_, err := client.Locate(context.Background(), []MealAnchorRequest{{UserID: 7}})
	require.ErrorIs(t, err, ErrUpstream)
}

func TestPreferencesAndCandidates(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/preferences/users":
			_, _ = io.WriteString(w, `{"preferences": [
				{"userId": 1, "categories": {"korean": 0.8, "ramen": 0.2}},
				{"userId": 2}
			]}`)
		case "/api/campuses/9/candidates":
			assert.Equal(t, http.MethodGet, r.Method)
			_, _ = io.WriteString(w, `{"userIds": [3, 1, 2]}`)
		default:
			http.NotFound(w, r)
		}
	})

	prefs, err := client.Preferences(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"korean": 0.8, "ramen": 0.2}, prefs[1])
	assert.Equal(t, map[string]float64{}, prefs[2])

	ids, err := client.Candidates(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, ids)
}

func TestUpstreamFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"malformed json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"userIds": [1,`)
		}},
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestServer(t, tt.handler)
			_, err := client.Candidates(context.Background(), 1)
			require.ErrorIs(t, err, ErrUpstream)
		})
	}
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewHTTPClient(HTTPConfig{BaseURL: url, Timeout: time.Second})
	_, err := client.Candidates(context.Background(), 1)
	require.ErrorIs(t, err, ErrUpstream)
}
