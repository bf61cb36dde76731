package slots

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	// SlotMinutes is the width of one slot.
	SlotMinutes = 5

	// SlotsPerDay is the number of slots covering 24 hours.
	SlotsPerDay = 24 * 60 / SlotMinutes

	// BlockBits is the width of one storage block.
	BlockBits = 32

	// BlocksPerDay is the number of blocks needed for one day.
	BlocksPerDay = (SlotsPerDay + BlockBits - 1) / BlockBits

	// DaysPerWeek is the number of weekdays tracked per user.
	DaysPerWeek = 7

	// MinutesPerDay bounds interval endpoints.
	MinutesPerDay = SlotsPerDay * SlotMinutes
)

// Day is one weekday of availability. true means busy.
type Day [SlotsPerDay]bool

// Blocks is the packed storage form of a Day.
type Blocks [BlocksPerDay]uint32

// Week is seven days of availability indexed by weekday (0=Monday).
type Week [DaysPerWeek]Day

// Interval is a busy interval in minutes since midnight, half-open [StartMin, EndMin).
type Interval struct {
	StartMin int
	EndMin   int
}

// MarkBusy sets every slot touched by [startMin, endMin) to busy.
//
// The start is floored and the end is ceiled to slot boundaries, and both are
// clamped to the day. Zero-length or inverted intervals are ignored.
func MarkBusy(day *Day, startMin, endMin int) {
	if endMin <= startMin {
		return
	}

	s := clampSlot(startMin / SlotMinutes)
	e := clampSlot((endMin + SlotMinutes - 1) / SlotMinutes)
	for i := s; i < e; i++ {
		day[i] = true
	}
}

func clampSlot(idx int) int {
	return max(0, min(SlotsPerDay, idx))
}

// ClampMinute bounds m to [0, MinutesPerDay].
func ClampMinute(m int) int {
	return max(0, min(MinutesPerDay, m))
}

// MergeIntervals returns the minimal sorted, disjoint cover of the input.
//
// Intervals that overlap or touch (next start <= previous end) are merged.
// Empty and inverted intervals are dropped. The input slice is not modified.
func MergeIntervals(in []Interval) []Interval {
	ints := make([]Interval, 0, len(in))
	for _, iv := range in {
		if iv.EndMin > iv.StartMin {
			ints = append(ints, iv)
		}
	}
	if len(ints) == 0 {
		return []Interval{}
	}

	sort.SliceStable(ints, func(i, j int) bool {
		return ints[i].StartMin < ints[j].StartMin
	})

	merged := []Interval{ints[0]}
	for _, cur := range ints[1:] {
		prev := &merged[len(merged)-1]
		if cur.StartMin <= prev.EndMin {
			prev.EndMin = max(prev.EndMin, cur.EndMin)
			continue
		}
		merged = append(merged, cur)
	}
	return merged
}

// Pack converts a day into its nine storage blocks.
func Pack(day Day) Blocks {
	var out Blocks
	for i, busy := range day {
		if busy {
			out[i/BlockBits] |= 1 << uint(i%BlockBits)
		}
	}
	return out
}

// Unpack restores a day from its storage blocks.
func Unpack(b Blocks) Day {
	var day Day
	for i := range day {
		day[i] = b[i/BlockBits]&(1<<uint(i%BlockBits)) != 0
	}
	return day
}

// PackBits packs an arbitrary-length bit slice. Bits past the end of the day
// are dropped; a short slice leaves the remaining slots free.
func PackBits(bits []bool) Blocks {
	var day Day
	copy(day[:], bits)
	return Pack(day)
}

// UnpackBlocks unpacks an arbitrary number of blocks. Missing blocks read as
// free and extra blocks are ignored.
func UnpackBlocks(blocks []uint32) Day {
	var b Blocks
	copy(b[:], blocks)
	return Unpack(b)
}

// DayFromIntervals builds a day from busy intervals after merging them.
func DayFromIntervals(intervals []Interval) Day {
	var day Day
	for _, iv := range MergeIntervals(intervals) {
		MarkBusy(&day, iv.StartMin, iv.EndMin)
	}
	return day
}

// BuildWeek packs a per-weekday interval map into seven block sets.
// Weekdays outside 0..6 are ignored; missing weekdays are all-free.
func BuildWeek(perDay map[int][]Interval) [DaysPerWeek]Blocks {
	var week [DaysPerWeek]Blocks
	for dow, ivs := range perDay {
		if dow < 0 || dow >= DaysPerWeek {
			continue
		}
		week[dow] = Pack(DayFromIntervals(ivs))
	}
	return week
}

// BusyCount returns the number of busy slots in the day.
func (d Day) BusyCount() int {
	n := 0
	for _, busy := range d {
		if busy {
			n++
		}
	}
	return n
}

// Downsample averages the day into SlotsPerDay/factor buckets, each holding
// the fraction of busy slots. factor must divide SlotsPerDay.
func Downsample(day Day, factor int) ([]float64, error) {
	if factor <= 0 || SlotsPerDay%factor != 0 {
		return nil, fmt.Errorf("downsample: factor %d does not divide %d", factor, SlotsPerDay)
	}

	out := make([]float64, SlotsPerDay/factor)
	for i, busy := range day {
		if busy {
			out[i/factor]++
		}
	}
	for i := range out {
		out[i] /= float64(factor)
	}
	return out, nil
}

// ParseClock parses "HH:MM" or "HH:MM:SS" into minutes since midnight.
// Seconds are floored into the minute. "24:00" is accepted as end of day.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("parse clock %q: want HH:MM[:SS]", s)
	}

	var fields [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("parse clock %q: invalid field %q", s, p)
		}
		fields[i] = v
	}

	h, m, sec := fields[0], fields[1], fields[2]
	if m > 59 || sec > 59 || h > 24 || (h == 24 && (m > 0 || sec > 0)) {
		return 0, fmt.Errorf("parse clock %q: out of range", s)
	}
	return h*60 + m + sec/60, nil
}
