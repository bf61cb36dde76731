// Package recompute rebuilds stored availability for users whose timetable
// changed.
package recompute

import (
	"context"
	"fmt"

	"github.com/roach88/solmeal/internal/backend"
	"github.com/roach88/solmeal/internal/logging"
	"github.com/roach88/solmeal/internal/metrics"
	"github.com/roach88/solmeal/internal/slots"
	"github.com/roach88/solmeal/internal/store"
)

// Summary reports one recompute pass.
type Summary struct {
	Users int `json:"users"`

	// Missing counts dirty users the schedule source returned nothing for.
	// They were written as all-free.
	Missing int `json:"missing"`
}

// Recomputer pulls intervals for dirty users and rewrites their bitsets.
type Recomputer struct {
	store    *store.Store
	schedule backend.ScheduleSource
	logger   logging.Logger
	metrics  metrics.Collector
}

// New returns a Recomputer. A nil logger or collector is replaced by a no-op.
func New(st *store.Store, schedule backend.ScheduleSource, logger logging.Logger, m metrics.Collector) *Recomputer {
	if logger == nil {
		logger = logging.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Recomputer{store: st, schedule: schedule, logger: logger, metrics: m}
}

// Pending returns the number of dirty users.
func (r *Recomputer) Pending(ctx context.Context) (int, error) {
	return r.store.CountDirty(ctx)
}

// Run recomputes every dirty user. Intervals are fetched in one call; each
// user's seven days are then replaced in their own transaction, so a failure
// part way leaves earlier users clean and later ones still dirty.
func (r *Recomputer) Run(ctx context.Context) (Summary, error) {
	users, err := r.store.DirtyUsers(ctx)
	if err != nil {
		return Summary{}, err
	}
	if len(users) == 0 {
		return Summary{}, nil
	}

	intervals, err := r.schedule.Intervals(ctx, users)
	if err != nil {
		return Summary{}, fmt.Errorf("recompute: fetch intervals: %w", err)
	}

	var sum Summary
	for _, uid := range users {
		perDay, ok := intervals[uid]
		if !ok {
			sum.Missing++
		}
		if err := r.store.ReplaceWeek(ctx, uid, slots.BuildWeek(perDay)); err != nil {
			return sum, fmt.Errorf("recompute: %w", err)
		}
		sum.Users++
	}

	r.metrics.DirtyRecomputed(sum.Users)
	r.logger.Info("dirty bits recomputed", "users", sum.Users, "missing", sum.Missing)
	return sum, nil
}
