// Package cycle runs the periodic grouping cycle for a campus and the
// trigger that schedules it.
//
// One cycle is: recompute dirty availability, list candidates, keep those
// with a free window after the anchor instant, locate them at their meal
// anchor, cluster, then persist and publish the run. A failure at any step
// leaves the campus's active run as it was.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/roach88/solmeal/internal/anchor"
	"github.com/roach88/solmeal/internal/backend"
	"github.com/roach88/solmeal/internal/cluster"
	"github.com/roach88/solmeal/internal/fingerprint"
	"github.com/roach88/solmeal/internal/logging"
	"github.com/roach88/solmeal/internal/metrics"
	"github.com/roach88/solmeal/internal/recompute"
	"github.com/roach88/solmeal/internal/slots"
	"github.com/roach88/solmeal/internal/snapshot"
	"github.com/roach88/solmeal/internal/store"
	"github.com/roach88/solmeal/internal/window"
)

// Candidate stages reported to metrics.Collector.Candidates.
const (
	StageListed   = "listed"
	StageWindowed = "windowed"
	StageLocated  = "located"
)

// Config holds the tunables of a cycle.
type Config struct {
	Algo   string
	Params cluster.Params

	// Downsample is the slot averaging factor for availability features.
	// Zero disables the availability group.
	Downsample int

	LookaheadMin int
	NeedMin      int

	Anchor anchor.Options

	// Location is the campus timezone. Nil keeps the clock's location.
	Location *time.Location
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	p := cluster.DefaultParams()
	p.WLoc = 0.5
	p.WPref = 1.5
	p.WTime = 1.0
	return Config{
		Algo:         "kmeans-v1",
		Params:       p,
		Downsample:   6,
		LookaheadMin: 90,
		NeedMin:      30,
		Anchor:       anchor.DefaultOptions(),
	}
}

// Report describes a finished cycle.
type Report struct {
	CycleID     string    `json:"cycle_id"`
	CampusID    int64     `json:"campus_id"`
	RunID       int64     `json:"run_id"`
	Anchor      time.Time `json:"anchor"`
	Fingerprint string    `json:"input_fingerprint"`

	Recomputed int `json:"recomputed"`
	Listed     int `json:"listed"`
	Windowed   int `json:"windowed"`
	Located    int `json:"located"`

	K               int  `json:"k"`
	Clusters        int  `json:"clusters"`
	Reassigned      bool `json:"reassigned"`
	ReassignSkipped bool `json:"reassign_skipped"`
}

// Runner executes cycles.
type Runner struct {
	store     *store.Store
	lifecycle *snapshot.Lifecycle
	backend   backend.Backend
	recompute *recompute.Recomputer
	engine    *cluster.Engine
	cfg       Config

	logger  logging.Logger
	metrics metrics.Collector
	ids     IDGenerator
	now     func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithIDGenerator overrides cycle id generation.
func WithIDGenerator(g IDGenerator) Option {
	return func(r *Runner) { r.ids = g }
}

// WithClock overrides the wall clock the anchor is snapped from.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithPartitioner overrides the clustering primitive.
func WithPartitioner(p cluster.Partitioner) Option {
	return func(r *Runner) { r.engine.Partitioner = p }
}

// NewRunner returns a Runner.
func NewRunner(st *store.Store, lc *snapshot.Lifecycle, be backend.Backend, cfg Config, opts ...Option) *Runner {
	r := &Runner{
		store:     st,
		lifecycle: lc,
		backend:   be,
		engine:    cluster.NewEngine(nil),
		cfg:       cfg,
		logger:    logging.NewNop(),
		metrics:   metrics.NewNop(),
		ids:       UUIDv7Generator{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.engine.Logger = r.logger
	r.recompute = recompute.New(st, be, r.logger, r.metrics)
	return r
}

// RunCycle runs one full cycle for campusID. The returned Report is filled
// as far as the cycle got, so callers can log it on failure too.
func (r *Runner) RunCycle(ctx context.Context, campusID int64, note string) (Report, error) {
	start := r.now()
	rep, err := r.runCycle(ctx, campusID, note)

	outcome := metrics.OutcomeActivated
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = metrics.OutcomeCanceled
	case err != nil:
		outcome = metrics.OutcomeFailed
	}
	r.metrics.CycleFinished(campusID, outcome, r.now().Sub(start))
	return rep, err
}

func (r *Runner) runCycle(ctx context.Context, campusID int64, note string) (Report, error) {
	now := r.now()
	if r.cfg.Location != nil {
		now = now.In(r.cfg.Location)
	}
	ref := anchor.Snap(now, r.cfg.Anchor)

	rep := Report{CycleID: r.ids.Generate(), CampusID: campusID, Anchor: ref}
	logger := r.logger.With("campus_id", campusID, "cycle_id", rep.CycleID)
	logger.Info("cycle started", "anchor", ref.Format(time.RFC3339))

	fail := func(stage string, err error) (Report, error) {
		err = Classify(stage, campusID, rep.RunID, err)
		var ce *Error
		if errors.As(err, &ce) {
			ce.CycleID = rep.CycleID
		}
		logger.Error("cycle failed", "stage", stage, "run_id", rep.RunID, "error", err)
		return rep, err
	}

	pending, err := r.recompute.Pending(ctx)
	if err != nil {
		return fail("recompute", err)
	}
	if pending > 0 {
		sum, err := r.recompute.Run(ctx)
		if err != nil {
			return fail("recompute", err)
		}
		rep.Recomputed = sum.Users
	}

	cands, err := r.gather(ctx, campusID, ref, &rep, logger)
	if err != nil {
		return fail("gather", err)
	}

	params := r.cfg.Params
	fp, err := fingerprint.Compute(fingerprint.Inputs{
		CampusID:   campusID,
		Anchor:     ref,
		Params:     params,
		Candidates: cands,
	})
	if err != nil {
		return fail("fingerprint", err)
	}
	rep.Fingerprint = fp

	runID, err := r.lifecycle.CreateDraft(ctx, campusID, r.cfg.Algo, &store.RunParams{
		Note:             note,
		MinGroupSize:     params.MinGroupSize,
		KMin:             params.KMin,
		MaxClusters:      params.MaxClusters,
		WTime:            params.WTime,
		WLoc:             params.WLoc,
		WPref:            params.WPref,
		Downsample:       r.cfg.Downsample,
		Seed:             params.Seed,
		CycleAnchor:      ref.Format(time.RFC3339),
		CycleID:          rep.CycleID,
		InputFingerprint: fp,
		Candidates:       len(cands),
	})
	if err != nil {
		return fail("create draft", err)
	}
	rep.RunID = runID
	logger = logger.With("run_id", runID)

	// K is recorded before clustering so a crashed run still documents it.
	k := cluster.ChooseK(len(cands), params.MinGroupSize, params.KMin, params.MaxClusters)
	if err := r.lifecycle.RecordComputedK(ctx, runID, k); err != nil {
		return fail("record k", err)
	}

	res, err := r.engine.Run(ctx, cands, params)
	if err != nil {
		return fail("cluster", err)
	}
	rep.K = res.K
	rep.Clusters = res.Clusters
	rep.Reassigned = res.Reassigned
	rep.ReassignSkipped = res.ReassignSkipped

	if err := r.lifecycle.PersistMembership(ctx, runID, snapshot.MembersFromAssignments(runID, res.Assignments)); err != nil {
		return fail("persist", err)
	}
	if err := r.lifecycle.Publish(ctx, campusID, runID); err != nil {
		return fail("publish", err)
	}

	logger.Info("cycle finished", "k", rep.K, "clusters", rep.Clusters, "members", len(res.Assignments))
	return rep, nil
}

// gather builds the clustering candidates: listed users with preferences,
// filtered to those with a free window after ref and located at their meal
// anchor. The result is ordered by user id.
func (r *Runner) gather(ctx context.Context, campusID int64, ref time.Time, rep *Report, logger logging.Logger) ([]cluster.Candidate, error) {
	ids, err := r.backend.Candidates(ctx, campusID)
	if err != nil {
		return nil, err
	}
	ids = dedupe(ids)
	rep.Listed = len(ids)
	r.metrics.Candidates(campusID, StageListed, len(ids))
	if len(ids) == 0 {
		return nil, &Error{Code: ErrCodeEmptyCandidateSet, Message: "no candidates listed", CampusID: campusID}
	}

	prefs, err := r.backend.Preferences(ctx, ids)
	if err != nil {
		return nil, err
	}

	weeks, err := r.store.LoadWeeks(ctx, ids)
	if err != nil {
		return nil, err
	}

	reqs := make([]backend.MealAnchorRequest, 0, len(ids))
	for _, uid := range ids {
		at, ok := window.MealAnchor(weeks[uid], ref, r.cfg.LookaheadMin, r.cfg.NeedMin, false)
		if !ok {
			continue
		}
		reqs = append(reqs, backend.MealAnchorRequest{UserID: uid, DayOfWeek: at.Day, EndTime: at})
	}
	rep.Windowed = len(reqs)
	r.metrics.Candidates(campusID, StageWindowed, len(reqs))
	if len(reqs) == 0 {
		return nil, &Error{Code: ErrCodeEmptyCandidateSet, Message: "no candidate has a free window", CampusID: campusID}
	}

	locs, err := r.backend.Locate(ctx, reqs)
	if err != nil {
		return nil, err
	}

	wanted := make(map[int64]bool, len(reqs))
	for _, req := range reqs {
		wanted[req.UserID] = true
	}
	today := window.Weekday(ref)

	cands := make([]cluster.Candidate, 0, len(locs))
	for _, loc := range locs {
		if !wanted[loc.UserID] {
			continue
		}
		delete(wanted, loc.UserID)

		c := cluster.Candidate{UserID: loc.UserID, Lat: loc.Lat, Lng: loc.Lng, Prefs: prefs[loc.UserID]}
		if r.cfg.Downsample > 0 {
			vec, err := slots.Downsample(weeks[loc.UserID][today], r.cfg.Downsample)
			if err != nil {
				return nil, fmt.Errorf("availability features: %w", err)
			}
			c.Availability = vec
		}
		cands = append(cands, c)
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].UserID < cands[j].UserID })

	rep.Located = len(cands)
	r.metrics.Candidates(campusID, StageLocated, len(cands))
	logger.Debug("candidates gathered", "listed", rep.Listed, "windowed", rep.Windowed, "located", rep.Located)
	if len(cands) == 0 {
		return nil, &Error{Code: ErrCodeEmptyCandidateSet, Message: "no candidate could be located", CampusID: campusID}
	}
	return cands, nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
