// Package backend declares the upstream collaborators a cycle consumes and
// ships an HTTP client and an in-memory implementation of them.
package backend

import (
	"context"
	"errors"

	"github.com/roach88/solmeal/internal/slots"
	"github.com/roach88/solmeal/internal/window"
)

// ErrUpstream marks an unreachable collaborator or a malformed response.
var ErrUpstream = errors.New("upstream unavailable")

// ScheduleSource returns class intervals per user and weekday (0=Monday).
// Users without a timetable may be omitted.
type ScheduleSource interface {
	Intervals(ctx context.Context, userIDs []int64) (map[int64]map[int][]slots.Interval, error)
}

// MealAnchorRequest asks for a user's location as of the end of the class
// preceding their next free window.
type MealAnchorRequest struct {
	UserID    int64
	DayOfWeek int
	EndTime   window.ClockTime
}

// Location is a user's coordinates.
type Location struct {
	UserID int64
	Lat    float64
	Lng    float64
}

// LocationSource resolves meal anchors to coordinates. Users it cannot
// locate are left out of the result.
type LocationSource interface {
	Locate(ctx context.Context, reqs []MealAnchorRequest) ([]Location, error)
}

// PreferenceSource returns sparse category weights per user.
type PreferenceSource interface {
	Preferences(ctx context.Context, userIDs []int64) (map[int64]map[string]float64, error)
}

// CandidateSource lists the users eligible for grouping on a campus.
type CandidateSource interface {
	Candidates(ctx context.Context, campusID int64) ([]int64, error)
}

// Backend bundles every collaborator.
type Backend interface {
	ScheduleSource
	LocationSource
	PreferenceSource
	CandidateSource
}
