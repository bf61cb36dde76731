package snapcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseCache runs the behavior every Cache implementation must share.
func exerciseCache(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()

	_, err := c.ActiveRun(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	var ops []Op
	ops = append(ops, MemberOps(10, 1, 100, ptr(0.3))...)
	ops = append(ops, MemberOps(10, 1, 101, ptr(0.1))...)
	ops = append(ops, MemberOps(10, 1, 102, nil)...)
	ops = append(ops, MemberOps(10, 2, 103, ptr(0.2))...)
	ops = append(ops, MemberOps(10, 12, 104, ptr(0.2))...)
	require.NoError(t, c.Apply(ctx, ops))

	seq, err := c.ClusterOf(ctx, 10, 103)
	require.NoError(t, err)
	assert.Equal(t, 2, seq)

	_, err = c.ClusterOf(ctx, 10, 999)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.ClusterOf(ctx, 11, 100)
	assert.ErrorIs(t, err, ErrNotFound)

	members, err := c.Members(ctx, 10, 1)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, int64(101), members[0].UserID)
	assert.Equal(t, int64(100), members[1].UserID)
	assert.Equal(t, int64(102), members[2].UserID)
	assert.Nil(t, members[2].Distance)

	// cluster 1 must not pick up cluster 12
	members, err = c.Members(ctx, 10, 12)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, int64(104), members[0].UserID)

	members, err = c.Members(ctx, 10, 99)
	require.NoError(t, err)
	assert.Empty(t, members)

	require.NoError(t, c.SetActive(ctx, 1, 10))
	run, err := c.ActiveRun(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), run)

	require.NoError(t, c.SetActive(ctx, 1, 11))
	run, err = c.ActiveRun(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(11), run)
}

func TestMemory_Behavior(t *testing.T) {
	exerciseCache(t, NewMemory())
}

func TestMemory_FailApplyAfter(t *testing.T) {
	m := NewMemory()
	m.FailApplyAfter = 1
	ctx := context.Background()

	require.NoError(t, m.Apply(ctx, MemberOps(1, 1, 1, nil)))
	err := m.Apply(ctx, MemberOps(1, 1, 2, nil))
	assert.ErrorIs(t, err, ErrInjected)
	assert.Equal(t, 1, m.Applies())
	assert.Equal(t, 2, m.Ops())
	assert.Equal(t, 2, m.Len())
}

func TestMemory_FailSetActive(t *testing.T) {
	m := NewMemory()
	m.FailSetActive = 1
	ctx := context.Background()

	assert.ErrorIs(t, m.SetActive(ctx, 1, 5), ErrInjected)
	_, err := m.ActiveRun(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.SetActive(ctx, 1, 5))
	run, err := m.ActiveRun(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), run)
}

func TestMemory_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMemory()
	assert.ErrorIs(t, m.Apply(ctx, MemberOps(1, 1, 1, nil)), context.Canceled)
	assert.ErrorIs(t, m.SetActive(ctx, 1, 1), context.Canceled)
}
