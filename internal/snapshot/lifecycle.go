// Package snapshot publishes clustering runs: draft creation, membership
// persistence, cache warmup and activation.
//
// Activation order is fixed. The durable store is committed first and the
// cache pointer is flipped second, so a crash in between leaves the store
// correct and a retried Activate completes the flip.
package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/solmeal/internal/cluster"
	"github.com/roach88/solmeal/internal/logging"
	"github.com/roach88/solmeal/internal/metrics"
	"github.com/roach88/solmeal/internal/snapcache"
	"github.com/roach88/solmeal/internal/store"
)

// Defaults for warmup batching.
const (
	DefaultBatchSize = 2000
	DefaultPageSize  = 5000
)

var (
	// ErrWarmupIncomplete is returned when any warmup batch failed, and by
	// Activate for a run whose warmup never completed.
	ErrWarmupIncomplete = store.ErrWarmupIncomplete

	// ErrPointerFlip is returned when the durable activation committed but
	// the cache pointer could not be updated. Retrying Activate is safe.
	ErrPointerFlip = errors.New("cache pointer flip failed")
)

// Lifecycle drives a run from draft to active.
type Lifecycle struct {
	store   *store.Store
	cache   snapcache.Cache
	logger  logging.Logger
	metrics metrics.Collector

	batchSize int
	pageSize  int
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(lc *Lifecycle) { lc.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(lc *Lifecycle) { lc.metrics = m }
}

// WithBatchSize sets how many cache operations are pipelined per batch.
func WithBatchSize(n int) Option {
	return func(lc *Lifecycle) {
		if n > 0 {
			lc.batchSize = n
		}
	}
}

// WithPageSize sets how many membership rows are read from the store at once.
func WithPageSize(n int) Option {
	return func(lc *Lifecycle) {
		if n > 0 {
			lc.pageSize = n
		}
	}
}

// New returns a Lifecycle over the given store and cache.
func New(st *store.Store, cache snapcache.Cache, opts ...Option) *Lifecycle {
	lc := &Lifecycle{
		store:     st,
		cache:     cache,
		logger:    logging.NewNop(),
		metrics:   metrics.NewNop(),
		batchSize: DefaultBatchSize,
		pageSize:  DefaultPageSize,
	}
	for _, opt := range opts {
		opt(lc)
	}
	return lc
}

// CreateDraft inserts a draft run and returns its id.
func (lc *Lifecycle) CreateDraft(ctx context.Context, campusID int64, algo string, params *store.RunParams) (int64, error) {
	runID, err := lc.store.CreateRun(ctx, campusID, algo, params)
	if err != nil {
		return 0, err
	}
	lc.logger.Info("draft run created", "campus_id", campusID, "run_id", runID, "algo", algo)
	return runID, nil
}

// RecordComputedK merges k into the run's parameter record.
func (lc *Lifecycle) RecordComputedK(ctx context.Context, runID int64, k int) error {
	return lc.store.SetComputedK(ctx, runID, k)
}

// PersistMembership stores the run's membership rows. It must be called
// exactly once per run.
func (lc *Lifecycle) PersistMembership(ctx context.Context, runID int64, rows []store.ClusterMember) error {
	if err := lc.store.InsertMembers(ctx, runID, rows); err != nil {
		return err
	}
	lc.logger.Debug("membership persisted", "run_id", runID, "rows", len(rows))
	return nil
}

// MembersFromAssignments converts clustering output into membership rows.
func MembersFromAssignments(runID int64, as []cluster.Assignment) []store.ClusterMember {
	rows := make([]store.ClusterMember, len(as))
	for i, a := range as {
		d := a.Distance
		rows[i] = store.ClusterMember{
			RunID:      runID,
			ClusterSeq: a.ClusterSeq,
			UserID:     a.UserID,
			Rank:       a.Rank,
			Distance:   &d,
		}
	}
	return rows
}

// WarmCache writes the run's membership into its cache namespace and
// returns the number of operations written. Rows are streamed from the store
// and written in pipelined batches. Any failed batch yields
// ErrWarmupIncomplete. The run is marked warmed in the store only after the
// last batch succeeded.
func (lc *Lifecycle) WarmCache(ctx context.Context, runID int64) (int, error) {
	var (
		ops     = make([]snapcache.Op, 0, lc.batchSize)
		written int
		batches int
	)

	flush := func() error {
		if len(ops) == 0 {
			return nil
		}
		batches++
		if err := lc.cache.Apply(ctx, ops); err != nil {
			return fmt.Errorf("warm run %d: batch %d: %w: %w", runID, batches, ErrWarmupIncomplete, err)
		}
		written += len(ops)
		lc.metrics.WarmupOps(len(ops))
		ops = ops[:0]
		return nil
	}

	err := lc.store.ScanMembers(ctx, runID, lc.pageSize, func(m store.ClusterMember) error {
		ops = append(ops, snapcache.MemberOps(runID, m.ClusterSeq, m.UserID, m.Distance)...)
		if len(ops) >= lc.batchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err == nil {
		err = lc.store.MarkWarmed(ctx, runID)
	}
	if err != nil {
		if !errors.Is(err, ErrWarmupIncomplete) {
			err = fmt.Errorf("warm run %d: %w: %w", runID, ErrWarmupIncomplete, err)
		}
		lc.logger.Error("cache warmup failed", "run_id", runID, "written", written, "error", err)
		return written, err
	}

	lc.logger.Info("cache warmed", "run_id", runID, "ops", written, "batches", batches)
	return written, nil
}

// Activate makes runID the campus's live run: durable commit first, cache
// pointer second. The store refuses runs that were never fully warmed with
// ErrWarmupIncomplete, leaving the previous live run in place.
func (lc *Lifecycle) Activate(ctx context.Context, campusID, runID int64) error {
	if err := lc.store.ActivateRun(ctx, campusID, runID); err != nil {
		return err
	}
	if err := lc.cache.SetActive(ctx, campusID, runID); err != nil {
		lc.logger.Error("cache pointer flip failed after durable activation",
			"campus_id", campusID, "run_id", runID, "error", err)
		return fmt.Errorf("activate run %d: %w: %w", runID, ErrPointerFlip, err)
	}
	lc.logger.Info("run activated", "campus_id", campusID, "run_id", runID)
	return nil
}

// Publish warms the cache for runID and then activates it. Activation is not
// attempted when warmup fails.
func (lc *Lifecycle) Publish(ctx context.Context, campusID, runID int64) error {
	if _, err := lc.WarmCache(ctx, runID); err != nil {
		return err
	}
	return lc.Activate(ctx, campusID, runID)
}

// Stats returns total and per-cluster member counts.
func (lc *Lifecycle) Stats(ctx context.Context, runID int64) (store.RunStats, error) {
	return lc.store.RunStats(ctx, runID)
}

// Reconcile repairs the cache pointer of a campus from the durable store. It
// re-warms the durable run's namespace and flips the pointer when the cache
// points elsewhere or nowhere. Campuses that never activated are left alone.
func (lc *Lifecycle) Reconcile(ctx context.Context, campusID int64) (bool, error) {
	durable, err := lc.store.LatestRun(ctx, campusID)
	if errors.Is(err, store.ErrNoActiveRun) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	cached, err := lc.cache.ActiveRun(ctx, campusID)
	if err == nil && cached == durable {
		return false, nil
	}
	if err != nil && !errors.Is(err, snapcache.ErrNotFound) {
		return false, fmt.Errorf("reconcile campus %d: %w", campusID, err)
	}

	lc.logger.Warn("cache pointer out of date", "campus_id", campusID, "run_id", durable, "cached_run_id", cached)
	if err := lc.Publish(ctx, campusID, durable); err != nil {
		return false, err
	}
	return true, nil
}
