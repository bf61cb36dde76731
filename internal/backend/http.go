package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/solmeal/internal/slots"
)

// HTTPConfig configures HTTPClient.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// Client overrides the underlying http.Client.
	Client *http.Client
}

// HTTPClient implements Backend against the campus backend's JSON API.
type HTTPClient struct {
	base   string
	apiKey string
	client *http.Client
}

var _ Backend = (*HTTPClient)(nil)

// NewHTTPClient returns a client for cfg. A zero Timeout means 5s.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey: cfg.APIKey,
		client: client,
	}
}

type lectureJSON struct {
	DayOfWeek *int   `json:"dayOfWeek"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type timetableJSON struct {
	UserID   *int64        `json:"userId"`
	Lectures []lectureJSON `json:"lectures"`
}

type timetablesResponse struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Timetables []timetableJSON `json:"timetables"`
}

// Intervals implements ScheduleSource (POST /api/timetable/users).
// Lectures with a missing weekday, unparsable times or an empty span are
// skipped; the rest are clamped to the day and merged.
func (c *HTTPClient) Intervals(ctx context.Context, userIDs []int64) (map[int64]map[int][]slots.Interval, error) {
	out := make(map[int64]map[int][]slots.Interval)
	if len(userIDs) == 0 {
		return out, nil
	}

	var resp timetablesResponse
	if err := c.do(ctx, http.MethodPost, "/api/timetable/users", userIDs, &resp); err != nil {
		return nil, err
	}

	for _, tt := range resp.Timetables {
		if tt.UserID == nil {
			continue
		}
		perDay := make(map[int][]slots.Interval)
		for _, lec := range tt.Lectures {
			if lec.DayOfWeek == nil || lec.StartTime == "" || lec.EndTime == "" {
				continue
			}
			start, err := slots.ParseClock(lec.StartTime)
			if err != nil {
				continue
			}
			end, err := slots.ParseClock(lec.EndTime)
			if err != nil {
				continue
			}
			start, end = slots.ClampMinute(start), slots.ClampMinute(end)
			if end <= start {
				continue
			}
			perDay[*lec.DayOfWeek] = append(perDay[*lec.DayOfWeek], slots.Interval{StartMin: start, EndMin: end})
		}
		for dow, ivs := range perDay {
			perDay[dow] = slots.MergeIntervals(ivs)
		}
		out[*tt.UserID] = perDay
	}
	return out, nil
}

type anchorJSON struct {
	UserID    int64  `json:"userId"`
	DayOfWeek int    `json:"dayOfWeek"`
	EndTime   string `json:"endTime"`
}

type locationJSON struct {
	UserID    *int64   `json:"userId"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// Locate implements LocationSource (POST /api/timetable/users/locations).
// Every response item must carry userId, latitude and longitude.
func (c *HTTPClient) Locate(ctx context.Context, reqs []MealAnchorRequest) ([]Location, error) {
	if len(reqs) == 0 {
		return []Location{}, nil
	}

	body := make([]anchorJSON, len(reqs))
	for i, r := range reqs {
		body[i] = anchorJSON{UserID: r.UserID, DayOfWeek: r.DayOfWeek, EndTime: r.EndTime.String()}
	}

	var resp []locationJSON
	if err := c.do(ctx, http.MethodPost, "/api/timetable/users/locations", body, &resp); err != nil {
		return nil, err
	}

	out := make([]Location, 0, len(resp))
	for i, item := range resp {
		if item.UserID == nil || item.Latitude == nil || item.Longitude == nil {
			return nil, fmt.Errorf("locate: item %d missing userId/latitude/longitude: %w", i, ErrUpstream)
		}
		out = append(out, Location{UserID: *item.UserID, Lat: *item.Latitude, Lng: *item.Longitude})
	}
	return out, nil
}

type preferenceJSON struct {
	UserID     *int64             `json:"userId"`
	Categories map[string]float64 `json:"categories"`
}

type preferencesResponse struct {
	Preferences []preferenceJSON `json:"preferences"`
}

// Preferences implements PreferenceSource (POST /api/preferences/users).
func (c *HTTPClient) Preferences(ctx context.Context, userIDs []int64) (map[int64]map[string]float64, error) {
	out := make(map[int64]map[string]float64)
	if len(userIDs) == 0 {
		return out, nil
	}

	var resp preferencesResponse
	if err := c.do(ctx, http.MethodPost, "/api/preferences/users", userIDs, &resp); err != nil {
		return nil, err
	}
	for _, p := range resp.Preferences {
		if p.UserID == nil {
			continue
		}
		cats := p.Categories
		if cats == nil {
			cats = map[string]float64{}
		}
		out[*p.UserID] = cats
	}
	return out, nil
}

type candidatesResponse struct {
	UserIDs []int64 `json:"userIds"`
}

// Candidates implements CandidateSource (GET /api/campuses/{id}/candidates).
func (c *HTTPClient) Candidates(ctx context.Context, campusID int64) ([]int64, error) {
	var resp candidatesResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/campuses/%d/candidates", campusID), nil, &resp); err != nil {
		return nil, err
	}
	if resp.UserIDs == nil {
		return []int64{}, nil
	}
	return resp.UserIDs, nil
}

// do performs one JSON round trip. Transport failures, non-2xx statuses and
// undecodable bodies are all reported as ErrUpstream.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s %s: encode body: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %w", method, path, ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s %s: status %d: %q: %w", method, path, resp.StatusCode, snippet, ErrUpstream)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode: %w: %w", method, path, ErrUpstream, err)
	}
	return nil
}
