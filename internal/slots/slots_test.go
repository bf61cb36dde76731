package slots

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// MarkBusy
// =============================================================================

func TestMarkBusy_FloorsStartCeilsEnd(t *testing.T) {
	var day Day
	MarkBusy(&day, 9*60+2, 9*60+11) // 09:02 - 09:11

	for i := range day {
		want := i >= 108 && i < 111
		assert.Equal(t, want, day[i], "slot %d", i)
	}
}

func TestMarkBusy_IgnoresEmptyAndInverted(t *testing.T) {
	var day Day
	MarkBusy(&day, 600, 600)
	MarkBusy(&day, 700, 650)
	assert.Equal(t, 0, day.BusyCount())
}

func TestMarkBusy_ClampsToDay(t *testing.T) {
	var day Day
	MarkBusy(&day, -30, 5)
	MarkBusy(&day, 23*60+55, 25*60)

	assert.True(t, day[0])
	assert.False(t, day[1])
	assert.True(t, day[SlotsPerDay-1])
	assert.Equal(t, 2, day.BusyCount())
}

// =============================================================================
// MergeIntervals
// =============================================================================

func TestMergeIntervals_TouchingAndOverlapping(t *testing.T) {
	in := []Interval{
		{StartMin: 630, EndMin: 660},
		{StartMin: 600, EndMin: 630},
		{StartMin: 800, EndMin: 900},
		{StartMin: 850, EndMin: 870},
		{StartMin: 600, EndMin: 630},
	}

	got := MergeIntervals(in)
	assert.Equal(t, []Interval{{600, 660}, {800, 900}}, got)

	// input untouched
	assert.Equal(t, Interval{630, 660}, in[0])
}

func TestMergeIntervals_Empty(t *testing.T) {
	assert.Empty(t, MergeIntervals(nil))
	assert.Empty(t, MergeIntervals([]Interval{{10, 10}, {20, 5}}))
}

func TestMergeIntervals_Properties(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for iter := 0; iter < 200; iter++ {
		n := rng.IntN(12)
		in := make([]Interval, n)
		var covered [MinutesPerDay]bool
		for i := range in {
			s := rng.IntN(MinutesPerDay)
			e := s + rng.IntN(120)
			if e > MinutesPerDay {
				e = MinutesPerDay
			}
			in[i] = Interval{StartMin: s, EndMin: e}
			for m := s; m < e; m++ {
				covered[m] = true
			}
		}

		out := MergeIntervals(in)

		var got [MinutesPerDay]bool
		for i, iv := range out {
			require.Less(t, iv.StartMin, iv.EndMin)
			if i > 0 {
				// sorted and strictly separated (touching would have merged)
				require.Greater(t, iv.StartMin, out[i-1].EndMin)
			}
			for m := iv.StartMin; m < iv.EndMin; m++ {
				got[m] = true
			}
		}
		require.Equal(t, covered, got, "iteration %d: union of covered minutes differs", iter)
	}
}

// =============================================================================
// Pack / Unpack
// =============================================================================

func TestPackUnpack_RoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for iter := 0; iter < 500; iter++ {
		var day Day
		for i := range day {
			day[i] = rng.IntN(2) == 1
		}
		require.Equal(t, day, Unpack(Pack(day)))
	}
}

func TestPackUnpack_RoundTripEdges(t *testing.T) {
	var empty, full, first, last Day
	for i := range full {
		full[i] = true
	}
	first[0] = true
	last[SlotsPerDay-1] = true

	for name, day := range map[string]Day{"empty": empty, "full": full, "first": first, "last": last} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, day, Unpack(Pack(day)))
		})
	}
}

func TestPack_BitLayout(t *testing.T) {
	var day Day
	day[0] = true
	day[33] = true
	day[287] = true

	b := Pack(day)
	assert.Equal(t, uint32(1), b[0])
	assert.Equal(t, uint32(1<<1), b[1])
	assert.Equal(t, uint32(1<<31), b[8])
}

func TestPack_ClassBlock(t *testing.T) {
	// 09:00-10:30 covers slots 108..125, all inside block 3 at offsets 12..29.
	week := BuildWeek(map[int][]Interval{0: {{StartMin: 540, EndMin: 630}}})
	assert.Equal(t, uint32(((1<<18)-1)<<12), week[0][3])
	assert.Equal(t, Blocks{}, week[1])
}

func TestPackBits_TruncatesAndPads(t *testing.T) {
	long := make([]bool, SlotsPerDay+40)
	for i := range long {
		long[i] = true
	}
	b := PackBits(long)
	assert.Equal(t, SlotsPerDay, Unpack(b).BusyCount())

	short := []bool{true, false, true}
	day := Unpack(PackBits(short))
	assert.True(t, day[0])
	assert.True(t, day[2])
	assert.Equal(t, 2, day.BusyCount())
}

func TestUnpackBlocks_ClampsLength(t *testing.T) {
	day := UnpackBlocks([]uint32{0xFFFFFFFF})
	assert.Equal(t, 32, day.BusyCount())

	day = UnpackBlocks([]uint32{0, 0, 0, 0, 0, 0, 0, 0, 1, 0xFFFF})
	assert.True(t, day[256])
	assert.Equal(t, 1, day.BusyCount())
}

// =============================================================================
// Helpers
// =============================================================================

func TestBuildWeek_IgnoresInvalidWeekday(t *testing.T) {
	week := BuildWeek(map[int][]Interval{
		-1: {{0, 60}},
		7:  {{0, 60}},
		6:  {{0, 60}},
	})
	for dow := 0; dow < 6; dow++ {
		assert.Equal(t, Blocks{}, week[dow])
	}
	assert.Equal(t, 12, Unpack(week[6]).BusyCount())
}

func TestDownsample(t *testing.T) {
	var day Day
	for i := 0; i < 3; i++ {
		day[i] = true
	}

	vec, err := Downsample(day, 6)
	require.NoError(t, err)
	require.Len(t, vec, 48)
	assert.InDelta(t, 0.5, vec[0], 1e-9)
	assert.Zero(t, vec[1])

	_, err = Downsample(day, 7)
	assert.Error(t, err)
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"09:00:00", 540, false},
		{"09:05", 545, false},
		{"13:30:59", 810, false},
		{"24:00", 1440, false},
		{"24:01", 0, true},
		{"9", 0, true},
		{"aa:00", 0, true},
		{"10:60", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
