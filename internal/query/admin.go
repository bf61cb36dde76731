package query

import (
	"context"

	"github.com/roach88/solmeal/internal/cycle"
	"github.com/roach88/solmeal/internal/store"
)

// CreateRun inserts an empty draft run. An empty algo means
// DefaultManualAlgo.
func (s *Service) CreateRun(ctx context.Context, campusID int64, algo, note string) (RunView, error) {
	if algo == "" {
		algo = DefaultManualAlgo
	}
	var params *store.RunParams
	if note != "" {
		params = &store.RunParams{Note: note}
	}

	runID, err := s.lifecycle.CreateDraft(ctx, campusID, algo, params)
	if err != nil {
		return RunView{}, err
	}
	return RunView{CampusID: campusID, RunID: runID, Status: store.StatusDraft, Algo: algo}, nil
}

// Warmup writes a run's membership into the cache without activating it.
// It returns the number of cache operations written.
func (s *Service) Warmup(ctx context.Context, runID int64) (int, error) {
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		return 0, err
	}
	n, err := s.lifecycle.WarmCache(ctx, runID)
	if err != nil {
		return n, cycle.Classify("warmup", 0, runID, err)
	}
	return n, nil
}

// Activate makes runID the live run of campusID. A run whose warmup never
// completed is refused with CACHE_WARMUP_INCOMPLETE.
func (s *Service) Activate(ctx context.Context, campusID, runID int64) (RunView, error) {
	if err := s.lifecycle.Activate(ctx, campusID, runID); err != nil {
		return RunView{}, cycle.Classify("activate", campusID, runID, err)
	}
	return RunView{CampusID: campusID, RunID: runID, Status: store.StatusActive}, nil
}

// AutoCycle runs a full cycle for campusID now, subject to the trigger's
// one-in-flight rule.
func (s *Service) AutoCycle(ctx context.Context, campusID int64, note string) (cycle.Report, error) {
	if s.trigger == nil {
		return cycle.Report{}, ErrNoTrigger
	}
	return s.trigger.Fire(ctx, campusID, note)
}
