// Package query exposes the read and admin operations callers use: cluster
// lookup, run statistics, dirty marking, bitset inspection and manual run
// control.
//
// Lookups read only the snapshot cache, following the campus pointer into
// the run's namespace. Everything else goes through the durable store.
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/solmeal/internal/cycle"
	"github.com/roach88/solmeal/internal/logging"
	"github.com/roach88/solmeal/internal/slots"
	"github.com/roach88/solmeal/internal/snapcache"
	"github.com/roach88/solmeal/internal/snapshot"
	"github.com/roach88/solmeal/internal/store"
)

// Top-K bounds for MyCluster.
const (
	DefaultTopK = 5
	MaxTopK     = 100
)

// DefaultManualAlgo labels runs created by hand.
const DefaultManualAlgo = "baseline-v0"

var (
	// ErrNoActiveSnapshot is returned when the campus has no live run.
	ErrNoActiveSnapshot = errors.New("active snapshot not found")

	// ErrUserNotAssigned is returned when the user is not in the live run.
	ErrUserNotAssigned = errors.New("user not assigned in this snapshot")

	// ErrNoTrigger is returned by AutoCycle when the service has no trigger.
	ErrNoTrigger = errors.New("cycle trigger not configured")
)

// Peer is one other member of the caller's cluster.
type Peer struct {
	UserID   int64    `json:"user_id"`
	Distance *float64 `json:"distance,omitempty"`
}

// ClusterView is the result of MyCluster.
type ClusterView struct {
	CampusID   int64  `json:"campus_id"`
	RunID      int64  `json:"run_id"`
	ClusterSeq int    `json:"cluster_seq"`
	Members    []Peer `json:"members"`
}

// BitsView is one stored availability row.
type BitsView struct {
	UserID    int64                      `json:"user_id"`
	DayOfWeek int                        `json:"day_of_week"`
	Slots     [slots.BlocksPerDay]uint32 `json:"slots"`
	Dirty     bool                       `json:"is_dirty"`
}

// RunView is the result of CreateRun and Activate.
type RunView struct {
	CampusID int64           `json:"campus_id"`
	RunID    int64           `json:"run_id"`
	Status   store.RunStatus `json:"status"`
	Algo     string          `json:"algo,omitempty"`
}

// Service implements the exposed operations.
type Service struct {
	store     *store.Store
	cache     snapcache.Cache
	lifecycle *snapshot.Lifecycle
	trigger   *cycle.Trigger
	logger    logging.Logger
}

// New returns a Service. trigger may be nil, which disables AutoCycle.
func New(st *store.Store, cache snapcache.Cache, lc *snapshot.Lifecycle, trigger *cycle.Trigger, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{store: st, cache: cache, lifecycle: lc, trigger: trigger, logger: logger}
}

// MyCluster returns the peers of userID in campusID's live run, self
// excluded, ordered by (distance, user id) and truncated to topK.
// topK 0 means DefaultTopK; anything else outside 1..MaxTopK is rejected.
func (s *Service) MyCluster(ctx context.Context, campusID, userID int64, topK int) (ClusterView, error) {
	if topK == 0 {
		topK = DefaultTopK
	}
	if topK < 1 || topK > MaxTopK {
		return ClusterView{}, cycle.Validationf("top_k %d outside 1..%d", topK, MaxTopK)
	}

	runID, err := s.cache.ActiveRun(ctx, campusID)
	if errors.Is(err, snapcache.ErrNotFound) {
		return ClusterView{}, fmt.Errorf("campus %d: %w", campusID, ErrNoActiveSnapshot)
	}
	if err != nil {
		return ClusterView{}, fmt.Errorf("my cluster: %w", err)
	}

	seq, err := s.cache.ClusterOf(ctx, runID, userID)
	if errors.Is(err, snapcache.ErrNotFound) {
		return ClusterView{}, fmt.Errorf("user %d run %d: %w", userID, runID, ErrUserNotAssigned)
	}
	if err != nil {
		return ClusterView{}, fmt.Errorf("my cluster: %w", err)
	}

	members, err := s.cache.Members(ctx, runID, seq)
	if err != nil {
		return ClusterView{}, fmt.Errorf("my cluster: %w", err)
	}

	peers := make([]Peer, 0, min(len(members), topK))
	for _, m := range members {
		if m.UserID == userID {
			continue
		}
		if len(peers) == topK {
			break
		}
		peers = append(peers, Peer{UserID: m.UserID, Distance: m.Distance})
	}

	return ClusterView{CampusID: campusID, RunID: runID, ClusterSeq: seq, Members: peers}, nil
}

// RunStats returns total and per-cluster member counts.
func (s *Service) RunStats(ctx context.Context, runID int64) (store.RunStats, error) {
	return s.lifecycle.Stats(ctx, runID)
}

// MarkDirty flags all seven days of each user for recomputation. No ids is
// a no-op.
func (s *Service) MarkDirty(ctx context.Context, userIDs ...int64) error {
	for _, uid := range userIDs {
		if uid <= 0 {
			return cycle.Validationf("user id %d must be positive", uid)
		}
	}
	if err := s.store.MarkDirty(ctx, userIDs); err != nil {
		return err
	}
	if len(userIDs) > 0 {
		s.logger.Info("users marked dirty", "users", len(userIDs))
	}
	return nil
}

// Bits returns the stored row for (userID, dayOfWeek).
func (s *Service) Bits(ctx context.Context, userID int64, dayOfWeek int) (BitsView, error) {
	if dayOfWeek < 0 || dayOfWeek >= slots.DaysPerWeek {
		return BitsView{}, cycle.Validationf("day_of_week %d outside 0..%d", dayOfWeek, slots.DaysPerWeek-1)
	}
	bit, err := s.store.GetBits(ctx, userID, dayOfWeek)
	if err != nil {
		return BitsView{}, err
	}
	return BitsView{UserID: bit.UserID, DayOfWeek: bit.DayOfWeek, Slots: bit.Blocks, Dirty: bit.Dirty}, nil
}
