package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/solmeal/internal/slots"
)

// Static is an in-memory Backend for tests and offline runs.
//
// Err, when set, fails every call with ErrUpstream. Locate records each
// request batch so callers can assert on the anchors they sent.
type Static struct {
	Schedules    map[int64]map[int][]slots.Interval
	Locations    map[int64]Location
	Prefs        map[int64]map[string]float64
	CandidateIDs map[int64][]int64
	Err          error

	mu          sync.Mutex
	locateCalls [][]MealAnchorRequest
}

var _ Backend = (*Static)(nil)

// NewStatic returns an empty Static backend.
func NewStatic() *Static {
	return &Static{
		Schedules:    make(map[int64]map[int][]slots.Interval),
		Locations:    make(map[int64]Location),
		Prefs:        make(map[int64]map[string]float64),
		CandidateIDs: make(map[int64][]int64),
	}
}

func (s *Static) fail(op string) error {
	if s.Err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUpstream, s.Err)
}

// Intervals implements ScheduleSource.
func (s *Static) Intervals(_ context.Context, userIDs []int64) (map[int64]map[int][]slots.Interval, error) {
	if err := s.fail("intervals"); err != nil {
		return nil, err
	}
	out := make(map[int64]map[int][]slots.Interval)
	for _, uid := range userIDs {
		if perDay, ok := s.Schedules[uid]; ok {
			out[uid] = perDay
		}
	}
	return out, nil
}

// Locate implements LocationSource.
func (s *Static) Locate(_ context.Context, reqs []MealAnchorRequest) ([]Location, error) {
	s.mu.Lock()
	s.locateCalls = append(s.locateCalls, append([]MealAnchorRequest(nil), reqs...))
	s.mu.Unlock()

	if err := s.fail("locate"); err != nil {
		return nil, err
	}
	out := make([]Location, 0, len(reqs))
	for _, r := range reqs {
		if loc, ok := s.Locations[r.UserID]; ok {
			loc.UserID = r.UserID
			out = append(out, loc)
		}
	}
	return out, nil
}

// LocateCalls returns the request batches passed to Locate so far.
func (s *Static) LocateCalls() [][]MealAnchorRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]MealAnchorRequest(nil), s.locateCalls...)
}

// Preferences implements PreferenceSource.
func (s *Static) Preferences(_ context.Context, userIDs []int64) (map[int64]map[string]float64, error) {
	if err := s.fail("preferences"); err != nil {
		return nil, err
	}
	out := make(map[int64]map[string]float64)
	for _, uid := range userIDs {
		if p, ok := s.Prefs[uid]; ok {
			out[uid] = p
		}
	}
	return out, nil
}

// Candidates implements CandidateSource. Ids are returned ascending.
func (s *Static) Candidates(_ context.Context, campusID int64) ([]int64, error) {
	if err := s.fail("candidates"); err != nil {
		return nil, err
	}
	ids := append([]int64{}, s.CandidateIDs[campusID]...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
