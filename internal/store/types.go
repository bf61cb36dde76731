package store

import (
	"errors"
	"time"

	"github.com/roach88/solmeal/internal/slots"
)

var (
	// ErrRunNotFound is returned when a run id does not exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidRunState is returned when activation finds a status other
	// than draft or active.
	ErrInvalidRunState = errors.New("invalid run state")

	// ErrCampusMismatch is returned when activating a run for a campus it
	// was not created for.
	ErrCampusMismatch = errors.New("run belongs to a different campus")

	// ErrWarmupIncomplete is returned when activating a run whose cache
	// warmup has not completed.
	ErrWarmupIncomplete = errors.New("cache warmup incomplete")

	// ErrNoActiveRun is returned when a campus has never activated a run.
	ErrNoActiveRun = errors.New("no active run for campus")

	// ErrBitsNotFound is returned when a (user, weekday) bitset row is missing.
	ErrBitsNotFound = errors.New("timetable bits not found")
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	StatusDraft      RunStatus = "draft"
	StatusActive     RunStatus = "active"
	StatusSuperseded RunStatus = "superseded" // was active, replaced by a newer run
)

// RunParams is the parameter record stored with a run. Everything needed to
// reproduce the run's K and feature weighting is captured here before the
// clustering step executes.
type RunParams struct {
	Note             string  `json:"note,omitempty"`
	MinGroupSize     int     `json:"min_group_size"`
	KMin             int     `json:"k_min"`
	MaxClusters      int     `json:"max_clusters,omitempty"`
	WTime            float64 `json:"w_time"`
	WLoc             float64 `json:"w_loc"`
	WPref            float64 `json:"w_pref"`
	Downsample       int     `json:"downsample"`
	Seed             int64   `json:"seed"`
	CycleAnchor      string  `json:"cycle_anchor,omitempty"`
	CycleID          string  `json:"cycle_id,omitempty"`
	InputFingerprint string  `json:"input_fingerprint,omitempty"`
	Candidates       int     `json:"candidates,omitempty"`
	ComputedK        *int    `json:"computed_k,omitempty"`
}

// Run is one clustering cycle for one campus.
type Run struct {
	ID          int64
	CampusID    int64
	Algo        string
	Params      RunParams
	Status      RunStatus
	CreatedAt   time.Time
	WarmedAt    *time.Time
	ActivatedAt *time.Time
}

// ClusterMember is one user's placement within a run.
type ClusterMember struct {
	ID         int64
	RunID      int64
	ClusterSeq int
	UserID     int64
	Rank       int
	Distance   *float64
}

// ClusterCount is the member count of one cluster.
type ClusterCount struct {
	ClusterSeq int `json:"cluster_seq"`
	Members    int `json:"members"`
}

// RunStats summarizes a run's membership.
type RunStats struct {
	RunID        int64          `json:"run_id"`
	TotalMembers int            `json:"total_members"`
	Clusters     []ClusterCount `json:"clusters"`
}

// TimetableBit is one (user, weekday) availability row.
type TimetableBit struct {
	UserID    int64
	DayOfWeek int
	Blocks    slots.Blocks
	Dirty     bool
	UpdatedAt time.Time
}
