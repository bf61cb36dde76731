package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/roach88/solmeal/internal/logging"
)

// ErrEmptyCandidates is returned when there is nothing to cluster.
var ErrEmptyCandidates = errors.New("empty candidate set")

// Params controls a clustering run.
type Params struct {
	MinGroupSize int
	KMin         int
	MaxClusters  int // 0 means no cap
	Seed         int64

	WLoc  float64
	WPref float64
	WTime float64
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		MinGroupSize: 3,
		KMin:         2,
		Seed:         42,
		WLoc:         1,
		WPref:        1,
		WTime:        1,
	}
}

// ChooseK returns max(kMin, ceil(n/minGroupSize)), capped by maxClusters when
// positive, and clamped to [1, n]. It returns 0 when n is 0.
func ChooseK(n, minGroupSize, kMin, maxClusters int) int {
	if n <= 0 {
		return 0
	}
	minGroupSize = max(1, minGroupSize)
	k := max(kMin, (n+minGroupSize-1)/minGroupSize)
	if maxClusters > 0 {
		k = min(k, maxClusters)
	}
	return max(1, min(k, n))
}

// Assignment is one candidate's final placement.
type Assignment struct {
	UserID     int64
	ClusterSeq int
	Rank       int
	Distance   float64
}

// Result is the output of Engine.Run.
type Result struct {
	// K is the requested cluster count; Clusters is how many survived.
	K        int
	Clusters int

	// Assignments are ordered by (ClusterSeq, Rank).
	Assignments []Assignment
	Warnings    []Warning

	// Reassigned is set when at least one member of an undersized cluster
	// was moved. ReassignSkipped is set when reassignment applied by size
	// but fewer than two clusters met the minimum.
	Reassigned      bool
	ReassignSkipped bool
}

// Sizes returns member counts keyed by cluster sequence.
func (r Result) Sizes() map[int]int {
	out := make(map[int]int, r.Clusters)
	for _, a := range r.Assignments {
		out[a.ClusterSeq]++
	}
	return out
}

// Engine runs the clustering pipeline.
type Engine struct {
	Partitioner Partitioner
	Logger      logging.Logger
}

// NewEngine returns an engine using KMeans.
func NewEngine(logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{Partitioner: KMeans{}, Logger: logger}
}

// Run clusters cands and returns ranked assignments.
func (e *Engine) Run(ctx context.Context, cands []Candidate, p Params) (Result, error) {
	if len(cands) == 0 {
		return Result{}, ErrEmptyCandidates
	}
	logger := e.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	part := e.Partitioner
	if part == nil {
		part = KMeans{}
	}

	X, warnings := BuildFeatures(cands, p)
	for _, w := range warnings {
		logger.Warn("feature warning", "group", w.Group, "detail", w.Message)
	}

	k := ChooseK(len(cands), p.MinGroupSize, p.KMin, p.MaxClusters)
	labels, centers, err := part.Partition(ctx, X, k, p.Seed)
	if err != nil {
		return Result{}, fmt.Errorf("partition: %w", err)
	}
	if len(labels) != len(X) {
		return Result{}, fmt.Errorf("partition: %d labels for %d points", len(labels), len(X))
	}
	for i, l := range labels {
		if l < 0 || l >= len(centers) {
			return Result{}, fmt.Errorf("partition: label %d of point %d outside %d centers", l, i, len(centers))
		}
	}

	dists := make([]float64, len(X))
	for i, x := range X {
		dists[i] = floats.Distance(x, centers[labels[i]], 2)
	}

	res := Result{K: k, Warnings: warnings}
	if len(cands) >= 2*p.MinGroupSize {
		moved, skipped := reassignSmall(X, labels, dists, centers, p.MinGroupSize)
		res.Reassigned = moved
		res.ReassignSkipped = skipped
		if skipped {
			logger.Warn("small-cluster reassignment skipped", "reason", "fewer than two clusters meet the minimum size")
		}
	}

	res.Assignments, res.Clusters = rank(cands, labels, dists)
	logger.Debug("clustering done", "candidates", len(cands), "k", k, "clusters", res.Clusters, "reassigned", res.Reassigned)
	return res, nil
}

// reassignSmall moves every member of a cluster below minSize to the nearest
// cluster at or above it. Ties go to the lower label. It updates labels and
// dists in place and does nothing unless at least two clusters are big.
func reassignSmall(X [][]float64, labels []int, dists []float64, centers [][]float64, minSize int) (moved, skipped bool) {
	sizes := make(map[int]int)
	for _, l := range labels {
		sizes[l]++
	}

	var big []int
	hasSmall := false
	for l, n := range sizes {
		if n >= minSize {
			big = append(big, l)
		} else {
			hasSmall = true
		}
	}
	if !hasSmall {
		return false, false
	}
	if len(big) < 2 {
		return false, true
	}
	sort.Ints(big)

	for i, l := range labels {
		if sizes[l] >= minSize {
			continue
		}
		best, bestD := -1, 0.0
		for _, b := range big {
			d := floats.Distance(X[i], centers[b], 2)
			if best < 0 || d < bestD {
				best, bestD = b, d
			}
		}
		labels[i] = best
		dists[i] = bestD
		moved = true
	}
	return moved, false
}

// rank relabels surviving clusters to 1..K' in ascending label order and
// ranks members by (distance, user id).
func rank(cands []Candidate, labels []int, dists []float64) ([]Assignment, int) {
	used := make(map[int]struct{})
	for _, l := range labels {
		used[l] = struct{}{}
	}
	order := make([]int, 0, len(used))
	for l := range used {
		order = append(order, l)
	}
	sort.Ints(order)
	seq := make(map[int]int, len(order))
	for i, l := range order {
		seq[l] = i + 1
	}

	out := make([]Assignment, len(cands))
	for i, c := range cands {
		out[i] = Assignment{UserID: c.UserID, ClusterSeq: seq[labels[i]], Distance: dists[i]}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].ClusterSeq != out[b].ClusterSeq {
			return out[a].ClusterSeq < out[b].ClusterSeq
		}
		if out[a].Distance != out[b].Distance {
			return out[a].Distance < out[b].Distance
		}
		return out[a].UserID < out[b].UserID
	})

	r := 0
	for i := range out {
		if i == 0 || out[i].ClusterSeq != out[i-1].ClusterSeq {
			r = 0
		}
		r++
		out[i].Rank = r
	}
	return out, len(order)
}
