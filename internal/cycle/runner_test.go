package cycle

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/solmeal/internal/backend"
	"github.com/roach88/solmeal/internal/logging"
	"github.com/roach88/solmeal/internal/metrics"
	"github.com/roach88/solmeal/internal/slots"
	"github.com/roach88/solmeal/internal/snapcache"
	"github.com/roach88/solmeal/internal/snapshot"
	"github.com/roach88/solmeal/internal/store"
	"github.com/roach88/solmeal/internal/testutil"
)

// Monday 2026-10-19 11:58:30 UTC snaps to 12:00.
var testNow = time.Date(2026, 10, 19, 11, 58, 30, 0, time.UTC)

type recorder struct {
	mu         sync.Mutex
	outcomes   []string
	skipped    int
	candidates map[string]int
}

var _ metrics.Collector = (*recorder)(nil)

func newRecorder() *recorder { return &recorder{candidates: map[string]int{}} }

func (r *recorder) CycleFinished(_ int64, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recorder) CycleSkipped(int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped++
}

func (r *recorder) Candidates(_ int64, stage string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates[stage] = n
}

func (r *recorder) WarmupOps(int)       {}
func (r *recorder) DirtyRecomputed(int) {}

func (r *recorder) Skipped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipped
}

type fixture struct {
	st      *store.Store
	cache   *snapcache.Memory
	be      *backend.Static
	lc      *snapshot.Lifecycle
	runner  *Runner
	metrics *recorder
}

// tenCandidates mirrors the production sample: ten users with three food
// categories, spread over two neighborhoods.
func tenCandidates(be *backend.Static, campusID int64) {
	prefs := []map[string]float64{
		{"korean": 0.5, "pizza": 0.2, "chicken": 0.3},
		{"korean": 0.6, "pizza": 0, "chicken": 0.4},
		{"korean": 0, "pizza": 1, "chicken": 0},
		{"korean": 0, "pizza": 1, "chicken": 0},
		{"korean": 1, "pizza": 0, "chicken": 0},
		{"korean": 1, "pizza": 0, "chicken": 0},
		{"korean": 1, "pizza": 0, "chicken": 0},
		{"korean": 0.9, "pizza": 0.1, "chicken": 0},
		{"korean": 0, "pizza": 0.3, "chicken": 0.7},
		{"korean": 0, "pizza": 0.3, "chicken": 0.7},
	}
	ids := []int64{1, 22, 23, 24, 25, 26, 27, 28, 29, 30}
	be.CandidateIDs[campusID] = ids
	for i, uid := range ids {
		be.Prefs[uid] = prefs[i]
		be.Locations[uid] = backend.Location{
			Lat: 37.55 + float64(i%2)*0.01 + float64(i)*0.0005,
			Lng: 126.98 + float64(i%3)*0.01,
		}
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{
		st:      st,
		cache:   snapcache.NewMemory(),
		be:      backend.NewStatic(),
		metrics: newRecorder(),
	}
	f.lc = snapshot.New(st, f.cache, snapshot.WithBatchSize(4))
	f.runner = NewRunner(st, f.lc, f.be, DefaultConfig(),
		WithLogger(logging.NewNop()),
		WithMetrics(f.metrics),
		WithClock(testutil.NewFakeClock(testNow).Now),
		WithIDGenerator(testutil.NewSequenceIDGenerator("")),
	)
	return f
}

func TestRunCycle_TenCandidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenCandidates(f.be, 1)

	rep, err := f.runner.RunCycle(ctx, 1, "test")
	require.NoError(t, err)

	assert.Equal(t, "cycle-1", rep.CycleID)
	assert.Equal(t, time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC), rep.Anchor)
	assert.Equal(t, 10, rep.Listed)
	assert.Equal(t, 10, rep.Windowed)
	assert.Equal(t, 10, rep.Located)
	assert.Equal(t, 4, rep.K)
	assert.NotEmpty(t, rep.Fingerprint)
	assert.Equal(t, []string{metrics.OutcomeActivated}, f.metrics.outcomes)
	assert.Equal(t, 10, f.metrics.candidates[StageLocated])

	run, err := f.st.GetRun(ctx, rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusActive, run.Status)
	assert.Equal(t, "kmeans-v1", run.Algo)
	assert.Equal(t, "test", run.Params.Note)
	assert.Equal(t, "cycle-1", run.Params.CycleID)
	assert.Equal(t, "2026-10-19T12:00:00Z", run.Params.CycleAnchor)
	assert.Equal(t, rep.Fingerprint, run.Params.InputFingerprint)
	require.NotNil(t, run.Params.ComputedK)
	assert.Equal(t, 4, *run.Params.ComputedK)

	stats, err := f.st.RunStats(ctx, rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.TotalMembers)
	require.Len(t, stats.Clusters, rep.Clusters)
	for i, c := range stats.Clusters {
		assert.Equal(t, i+1, c.ClusterSeq, "sequence numbers are dense")
		if !rep.ReassignSkipped {
			assert.GreaterOrEqual(t, c.Members, 3)
		}
	}

	active, err := f.cache.ActiveRun(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, rep.RunID, active)

	seq, err := f.cache.ClusterOf(ctx, rep.RunID, 22)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, seq, 1)
}

func TestRunCycle_LocateRequestsUseMealAnchor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenCandidates(f.be, 1)

	// User 1 has class 10:00-11:30 Monday, so their meal anchor is 11:30.
	f.be.Schedules[1] = map[int][]slots.Interval{0: {{StartMin: 600, EndMin: 690}}}
	require.NoError(t, f.st.MarkDirty(ctx, []int64{1}))

	rep, err := f.runner.RunCycle(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Recomputed)

	calls := f.be.LocateCalls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 10)
	first := calls[0][0]
	assert.Equal(t, int64(1), first.UserID)
	assert.Equal(t, 0, first.DayOfWeek)
	assert.Equal(t, "11:30:00", first.EndTime.String())
}

func TestRunCycle_Deterministic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tenCandidates(f.be, 1)

	first, err := f.runner.RunCycle(ctx, 1, "")
	require.NoError(t, err)
	second, err := f.runner.RunCycle(ctx, 1, "")
	require.NoError(t, err)

	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.NotEqual(t, first.RunID, second.RunID)

	members := func(runID int64) []store.ClusterMember {
		var out []store.ClusterMember
		require.NoError(t, f.st.ScanMembers(ctx, runID, 0, func(m store.ClusterMember) error {
			m.ID, m.RunID = 0, 0
			out = append(out, m)
			return nil
		}))
		return out
	}
	assert.Equal(t, members(first.RunID), members(second.RunID))

	latest, err := f.st.LatestRun(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, second.RunID, latest)
}

func TestRunCycle_PartialLocation(t *testing.T) {
	f := newFixture(t)
	tenCandidates(f.be, 1)
	for _, uid := range []int64{1, 22, 23, 24, 25} {
		delete(f.be.Locations, uid)
	}

	rep, err := f.runner.RunCycle(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Equal(t, 10, rep.Windowed)
	assert.Equal(t, 5, rep.Located)
	assert.Equal(t, 2, rep.K)
}

func TestRunCycle_Failures(t *testing.T) {
	t.Run("upstream unavailable", func(t *testing.T) {
		f := newFixture(t)
		tenCandidates(f.be, 1)
		f.be.Err = errors.New("connection refused")

		_, err := f.runner.RunCycle(context.Background(), 1, "")
		require.Error(t, err)
		assert.True(t, IsUpstreamUnavailable(err))
		assert.ErrorIs(t, err, backend.ErrUpstream)
		assert.Equal(t, []string{metrics.OutcomeFailed}, f.metrics.outcomes)

		_, err = f.st.LatestRun(context.Background(), 1)
		assert.ErrorIs(t, err, store.ErrNoActiveRun)
	})

	t.Run("no candidates listed", func(t *testing.T) {
		f := newFixture(t)

		rep, err := f.runner.RunCycle(context.Background(), 1, "")
		require.Error(t, err)
		assert.True(t, IsEmptyCandidateSet(err))
		assert.Zero(t, rep.RunID)
	})

	t.Run("everyone busy", func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t)
		tenCandidates(f.be, 1)

		busy := map[int][]slots.Interval{}
		for dow := range slots.DaysPerWeek {
			busy[dow] = []slots.Interval{{StartMin: 0, EndMin: slots.MinutesPerDay}}
		}
		for _, uid := range f.be.CandidateIDs[1] {
			f.be.Schedules[uid] = busy
		}
		require.NoError(t, f.st.MarkDirty(ctx, f.be.CandidateIDs[1]))

		rep, err := f.runner.RunCycle(ctx, 1, "")
		require.Error(t, err)
		assert.True(t, IsEmptyCandidateSet(err))
		assert.Equal(t, 10, rep.Recomputed)
		assert.Zero(t, rep.Windowed)
		assert.Empty(t, f.be.LocateCalls())
	})

	t.Run("warmup failure keeps previous pointer", func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t)
		tenCandidates(f.be, 1)

		good, err := f.runner.RunCycle(ctx, 1, "")
		require.NoError(t, err)

		f.cache.FailApplyAfter = f.cache.Applies()
		rep, err := f.runner.RunCycle(ctx, 1, "")
		require.Error(t, err)
		assert.True(t, IsCacheWarmupIncomplete(err))

		var ce *Error
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, rep.RunID, ce.RunID)
		assert.Equal(t, "cycle-2", ce.CycleID)

		active, err := f.cache.ActiveRun(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, good.RunID, active)

		latest, err := f.st.LatestRun(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, good.RunID, latest)

		failed, err := f.st.GetRun(ctx, rep.RunID)
		require.NoError(t, err)
		assert.Equal(t, store.StatusDraft, failed.Status)
	})

	t.Run("pointer flip failure is repairable", func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t)
		tenCandidates(f.be, 1)
		f.cache.FailSetActive = 1

		rep, err := f.runner.RunCycle(ctx, 1, "")
		require.Error(t, err)
		assert.Equal(t, ErrCodeCachePointerFlip, CodeOf(err))

		repaired, err := f.lc.Reconcile(ctx, 1)
		require.NoError(t, err)
		assert.True(t, repaired)

		active, err := f.cache.ActiveRun(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, rep.RunID, active)
	})

	t.Run("canceled", func(t *testing.T) {
		f := newFixture(t)
		tenCandidates(f.be, 1)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := f.runner.RunCycle(ctx, 1, "")
		require.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, CodeOf(err))
		assert.Equal(t, []string{metrics.OutcomeCanceled}, f.metrics.outcomes)
	})
}
