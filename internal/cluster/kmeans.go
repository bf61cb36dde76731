package cluster

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// Partitioner assigns each row of X to one of k clusters.
//
// labels[i] is in [0, k) and centers has k rows. Implementations must be
// deterministic for a given seed.
type Partitioner interface {
	Partition(ctx context.Context, X [][]float64, k int, seed int64) (labels []int, centers [][]float64, err error)
}

// ErrInvalidK is returned when k is outside [1, len(X)].
var ErrInvalidK = errors.New("invalid cluster count")

// KMeans is Lloyd's algorithm with k-means++ seeding from a PCG source.
type KMeans struct {
	// MaxIter bounds Lloyd iterations. Zero means 300.
	MaxIter int

	// Tolerance stops iteration once no center moves further than this.
	Tolerance float64
}

var _ Partitioner = KMeans{}

// Partition implements Partitioner. Ties between equidistant centers go to
// the lower label. A cluster that empties is re-seeded with the point
// farthest from its current center.
func (km KMeans) Partition(ctx context.Context, X [][]float64, k int, seed int64) ([]int, [][]float64, error) {
	n := len(X)
	if k < 1 || k > n {
		return nil, nil, fmt.Errorf("kmeans: k=%d for %d points: %w", k, n, ErrInvalidK)
	}
	maxIter := km.MaxIter
	if maxIter <= 0 {
		maxIter = 300
	}

	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
	centers := seedPlusPlus(X, k, rng)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("kmeans: iteration %d: %w", iter, err)
		}

		changed := assign(X, centers, labels)
		shift := updateCenters(X, labels, centers)
		if !changed || shift <= km.Tolerance {
			break
		}
	}
	return labels, centers, nil
}

// seedPlusPlus picks k initial centers by squared-distance sampling.
func seedPlusPlus(X [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(X)
	centers := make([][]float64, 0, k)
	chosen := make([]bool, n)

	first := rng.IntN(n)
	chosen[first] = true
	centers = append(centers, clone(X[first]))

	d2 := make([]float64, n)
	for i := range X {
		d2[i] = sqDist(X[i], centers[0])
	}

	for len(centers) < k {
		total := floats.Sum(d2)
		next := -1
		if total > 0 {
			target := rng.Float64() * total
			acc := 0.0
			for i, d := range d2 {
				if d == 0 {
					continue
				}
				acc += d
				next = i
				if acc > target {
					break
				}
			}
		}
		if next < 0 {
			// Every point coincides with a center; take the first unused.
			for i := range chosen {
				if !chosen[i] {
					next = i
					break
				}
			}
		}

		chosen[next] = true
		c := clone(X[next])
		centers = append(centers, c)
		for i := range X {
			d2[i] = math.Min(d2[i], sqDist(X[i], c))
		}
	}
	return centers
}

// assign moves every point to its nearest center and reports whether any
// label changed.
func assign(X, centers [][]float64, labels []int) bool {
	changed := false
	for i, x := range X {
		best, bestD := 0, math.Inf(1)
		for j, c := range centers {
			if d := sqDist(x, c); d < bestD {
				best, bestD = j, d
			}
		}
		if labels[i] != best {
			labels[i] = best
			changed = true
		}
	}
	return changed
}

// updateCenters recomputes each center as the mean of its members and
// returns the largest center displacement. Empty clusters take the point
// farthest from its own center, which is then relabelled.
func updateCenters(X [][]float64, labels []int, centers [][]float64) float64 {
	k := len(centers)
	dim := len(centers[0])
	sums := make([][]float64, k)
	counts := make([]int, k)
	for j := range sums {
		sums[j] = make([]float64, dim)
	}
	for i, x := range X {
		floats.Add(sums[labels[i]], x)
		counts[labels[i]]++
	}

	shift := 0.0
	for j := range centers {
		if counts[j] == 0 {
			continue
		}
		floats.Scale(1/float64(counts[j]), sums[j])
		shift = math.Max(shift, floats.Distance(sums[j], centers[j], 2))
		centers[j] = sums[j]
	}

	for j := range centers {
		if counts[j] > 0 {
			continue
		}
		far, farD := -1, -1.0
		for i, x := range X {
			if counts[labels[i]] < 2 {
				continue
			}
			if d := sqDist(x, centers[labels[i]]); d > farD {
				far, farD = i, d
			}
		}
		if far < 0 {
			continue
		}
		counts[labels[far]]--
		labels[far] = j
		counts[j] = 1
		centers[j] = clone(X[far])
		shift = math.Inf(1)
	}
	return shift
}

func sqDist(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

func clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
