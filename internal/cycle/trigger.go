package cycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/roach88/solmeal/internal/logging"
	"github.com/roach88/solmeal/internal/metrics"
)

// CycleRunner runs one cycle. *Runner implements it.
type CycleRunner interface {
	RunCycle(ctx context.Context, campusID int64, note string) (Report, error)
}

// Trigger fires cycles for a set of campuses, at most one in flight per
// campus. Scheduled ticks that find their campus busy leave at most one
// pending cycle behind; further ticks are dropped and counted.
type Trigger struct {
	runner   CycleRunner
	campuses []int64
	timeout  time.Duration
	logger   logging.Logger
	metrics  metrics.Collector

	// gates holds one in-flight flag per campus.
	gates *xsync.Map[int64, *atomic.Bool]

	// sched holds the scheduler state of each campus driven by Run.
	sched *xsync.Map[int64, *schedSlot]
}

// schedSlot is the scheduled state of one campus: a cycle loop is active,
// and whether one more cycle is owed when it finishes.
type schedSlot struct {
	mu      sync.Mutex
	active  bool
	pending bool
}

// TriggerOption configures a Trigger.
type TriggerOption func(*Trigger)

// WithTimeout bounds each cycle. Zero means no deadline.
func WithTimeout(d time.Duration) TriggerOption {
	return func(t *Trigger) { t.timeout = d }
}

// WithTriggerLogger sets the logger.
func WithTriggerLogger(l logging.Logger) TriggerOption {
	return func(t *Trigger) { t.logger = l }
}

// WithTriggerMetrics sets the metrics collector.
func WithTriggerMetrics(m metrics.Collector) TriggerOption {
	return func(t *Trigger) { t.metrics = m }
}

// NewTrigger returns a Trigger that runs campuses on every tick.
func NewTrigger(runner CycleRunner, campuses []int64, opts ...TriggerOption) *Trigger {
	t := &Trigger{
		runner:   runner,
		campuses: append([]int64(nil), campuses...),
		logger:   logging.NewNop(),
		metrics:  metrics.NewNop(),
		gates:    xsync.NewMap[int64, *atomic.Bool](),
		sched:    xsync.NewMap[int64, *schedSlot](),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Fire runs one cycle for campusID unless one is already running, in which
// case it returns ErrCycleInProgress immediately.
func (t *Trigger) Fire(ctx context.Context, campusID int64, note string) (Report, error) {
	gate, _ := t.gates.LoadOrStore(campusID, &atomic.Bool{})
	if !gate.CompareAndSwap(false, true) {
		t.metrics.CycleSkipped(campusID)
		t.logger.Warn("cycle skipped, previous still running", "campus_id", campusID)
		return Report{}, ErrCycleInProgress
	}
	defer gate.Store(false)

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	return t.runner.RunCycle(ctx, campusID, note)
}

// Running reports whether campusID has a cycle in flight.
func (t *Trigger) Running(campusID int64) bool {
	gate, ok := t.gates.Load(campusID)
	return ok && gate.Load()
}

// Pending reports whether campusID owes one more scheduled cycle.
func (t *Trigger) Pending(campusID int64) bool {
	slot, ok := t.sched.Load(campusID)
	if !ok {
		return false
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.pending
}

// Run fires every campus on each tick until ctx is done or ticks is closed,
// then waits for in-flight cycles to return.
//
// Ticks already queued when one is received collapse into it. A tick that
// finds its campus busy marks one cycle pending, which runs as soon as the
// current one returns; ticks beyond that are dropped. Each campus runs on its
// own goroutine, so a slow campus never delays another.
func (t *Trigger) Run(ctx context.Context, ticks <-chan time.Time) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ticks:
			if !ok {
				return nil
			}
			if n := drainTicks(ticks); n > 0 {
				t.logger.Debug("backlogged ticks coalesced", "ticks", n+1)
			}
			for _, campusID := range t.campuses {
				t.schedule(ctx, &wg, campusID)
			}
		}
	}
}

// drainTicks discards every tick already queued and returns how many.
func drainTicks(ticks <-chan time.Time) int {
	n := 0
	for {
		select {
		case _, ok := <-ticks:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

// schedule starts a cycle loop for campusID, or records one pending cycle
// when a loop is already active.
func (t *Trigger) schedule(ctx context.Context, wg *sync.WaitGroup, campusID int64) {
	slot, _ := t.sched.LoadOrStore(campusID, &schedSlot{})

	slot.mu.Lock()
	if slot.active {
		dropped := slot.pending
		slot.pending = true
		slot.mu.Unlock()
		if dropped {
			t.metrics.CycleSkipped(campusID)
			t.logger.Warn("tick dropped, a cycle is already pending", "campus_id", campusID)
		} else {
			t.logger.Debug("cycle deferred until the running one returns", "campus_id", campusID)
		}
		return
	}
	slot.active = true
	slot.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			t.fireScheduled(ctx, campusID)

			slot.mu.Lock()
			if slot.pending && ctx.Err() == nil {
				slot.pending = false
				slot.mu.Unlock()
				continue
			}
			slot.active = false
			slot.pending = false
			slot.mu.Unlock()
			return
		}
	}()
}

func (t *Trigger) fireScheduled(ctx context.Context, campusID int64) {
	rep, err := t.Fire(ctx, campusID, "scheduler")
	switch {
	case errors.Is(err, ErrCycleInProgress):
	case err != nil:
		t.logger.Error("scheduled cycle failed", "campus_id", campusID, "cycle_id", rep.CycleID, "error", err)
	default:
		t.logger.Info("scheduled cycle activated", "campus_id", campusID, "run_id", rep.RunID)
	}
}
