package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/solmeal/internal/slots"
)

func TestMarkDirty_AllSevenDays(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.MarkDirty(ctx, []int64{5, 2}))

	var rows int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM timetable_bits WHERE is_dirty = 1").Scan(&rows))
	assert.Equal(t, 14, rows)

	users, err := s.DirtyUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 5}, users)

	n, err := s.CountDirty(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMarkDirty_EmptyIsNoop(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.MarkDirty(ctx, nil))

	users, err := s.DirtyUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestMarkDirty_KeepsExistingBits(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var week [slots.DaysPerWeek]slots.Blocks
	week[0][3] = 0xF0
	require.NoError(t, s.ReplaceWeek(ctx, 1, week))
	require.NoError(t, s.MarkDirty(ctx, []int64{1}))

	bit, err := s.GetBits(ctx, 1, 0)
	require.NoError(t, err)
	assert.True(t, bit.Dirty)
	assert.Equal(t, uint32(0xF0), bit.Blocks[3])
}

func TestReplaceWeek_ClearsDirty(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.MarkDirty(ctx, []int64{1, 2}))

	var week [slots.DaysPerWeek]slots.Blocks
	week[2][0] = 0xFFFFFFFF
	week[6][8] = 1
	require.NoError(t, s.ReplaceWeek(ctx, 1, week))

	users, err := s.DirtyUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, users)

	bit, err := s.GetBits(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, bit.Dirty)
	assert.Equal(t, uint32(0xFFFFFFFF), bit.Blocks[0])
	assert.True(t, bit.UpdatedAt.Equal(fixedNow))

	bit, err = s.GetBits(ctx, 1, 6)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), bit.Blocks[8])
}

func TestGetBits_Missing(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetBits(context.Background(), 1, 0)
	assert.ErrorIs(t, err, ErrBitsNotFound)
}

func TestLoadWeeks_MissingUsersAreFree(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var week [slots.DaysPerWeek]slots.Blocks
	week[1] = slots.Pack(slots.DayFromIntervals([]slots.Interval{{StartMin: 540, EndMin: 630}}))
	require.NoError(t, s.ReplaceWeek(ctx, 1, week))

	weeks, err := s.LoadWeeks(ctx, []int64{1, 3})
	require.NoError(t, err)
	require.Len(t, weeks, 2)

	assert.Equal(t, 18, weeks[1][1].BusyCount())
	assert.True(t, weeks[1][1][108])
	assert.False(t, weeks[1][1][126])
	assert.Zero(t, weeks[1][0].BusyCount())
	assert.Equal(t, slots.Week{}, weeks[3])
}

func TestLoadWeeks_Chunked(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ids := make([]int64, loadChunk+3)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	var week [slots.DaysPerWeek]slots.Blocks
	week[4][0] = 1
	require.NoError(t, s.ReplaceWeek(ctx, ids[len(ids)-1], week))

	weeks, err := s.LoadWeeks(ctx, ids)
	require.NoError(t, err)
	assert.Len(t, weeks, len(ids))
	assert.True(t, weeks[ids[len(ids)-1]][4][0])
}
