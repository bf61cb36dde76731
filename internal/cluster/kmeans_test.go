package cluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoBlobs() [][]float64 {
	return [][]float64{
		{0, 0}, {0, 1}, {1, 0},
		{100, 100}, {100, 101}, {101, 100},
	}
}

func TestKMeans_SeparatesBlobs(t *testing.T) {
	for seed := int64(0); seed < 10; seed++ {
		labels, centers, err := KMeans{}.Partition(context.Background(), twoBlobs(), 2, seed)
		require.NoError(t, err)
		require.Len(t, centers, 2)

		assert.Equal(t, labels[0], labels[1], "seed %d", seed)
		assert.Equal(t, labels[0], labels[2], "seed %d", seed)
		assert.Equal(t, labels[3], labels[4], "seed %d", seed)
		assert.Equal(t, labels[3], labels[5], "seed %d", seed)
		assert.NotEqual(t, labels[0], labels[3], "seed %d", seed)
	}
}

func TestKMeans_Deterministic(t *testing.T) {
	X := [][]float64{
		{0.1, 2.0}, {1.5, 0.3}, {3.2, 3.1}, {0.7, 0.9}, {2.2, 2.8},
		{4.0, 0.1}, {0.0, 4.4}, {3.3, 1.2}, {1.1, 3.3}, {2.5, 0.5},
	}
	a, ca, err := KMeans{}.Partition(context.Background(), X, 3, 42)
	require.NoError(t, err)
	b, cb, err := KMeans{}.Partition(context.Background(), X, 3, 42)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, ca, cb)
}

func TestKMeans_KEqualsN(t *testing.T) {
	X := [][]float64{{0}, {1}, {2}}
	labels, _, err := KMeans{}.Partition(context.Background(), X, 3, 1)
	require.NoError(t, err)

	seen := map[int]bool{}
	for _, l := range labels {
		seen[l] = true
	}
	assert.Len(t, seen, 3)
}

func TestKMeans_DuplicatePointsTerminate(t *testing.T) {
	X := [][]float64{{1, 1}, {1, 1}, {1, 1}}
	labels, centers, err := KMeans{MaxIter: 20}.Partition(context.Background(), X, 3, 7)
	require.NoError(t, err)
	assert.Len(t, labels, 3)
	assert.Len(t, centers, 3)
	for _, l := range labels {
		assert.GreaterOrEqual(t, l, 0)
		assert.Less(t, l, 3)
	}
}

func TestKMeans_InvalidK(t *testing.T) {
	_, _, err := KMeans{}.Partition(context.Background(), twoBlobs(), 0, 1)
	assert.ErrorIs(t, err, ErrInvalidK)

	_, _, err = KMeans{}.Partition(context.Background(), twoBlobs(), 7, 1)
	assert.ErrorIs(t, err, ErrInvalidK)
}

func TestKMeans_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := KMeans{}.Partition(ctx, twoBlobs(), 2, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
