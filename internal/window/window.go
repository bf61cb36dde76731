// Package window finds free-time windows in availability bitsets.
//
// All functions take the reference instant explicitly. Callers evaluate every
// candidate of one cycle against the same anchored instant.
package window

import (
	"fmt"
	"time"

	"github.com/roach88/solmeal/internal/slots"
)

// maxBackwardSteps bounds the backward class-end search to one full week.
const maxBackwardSteps = slots.DaysPerWeek * slots.SlotsPerDay

// Query describes one free-window check over today and tomorrow.
type Query struct {
	Today    slots.Day
	Tomorrow slots.Day

	// Ref is the cycle anchor. Only its wall-clock time of day is used.
	Ref time.Time

	// LookaheadMin is the scan horizon starting at Ref.
	LookaheadMin int

	// NeedMin is the required contiguous free duration.
	NeedMin int

	// FreeValue is the bit value meaning "free". Stored bitsets use
	// true=busy, so this is normally false.
	FreeValue bool
}

// ClockTime is a wall-clock time of day tagged with a weekday (0=Monday).
type ClockTime struct {
	Day    int
	Hour   int
	Minute int
}

// String formats the time as HH:MM:SS.
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d:00", c.Hour, c.Minute)
}

// Minutes returns minutes since midnight.
func (c ClockTime) Minutes() int {
	return c.Hour*60 + c.Minute
}

// StartSlot returns the slot index of ref's time of day, floored.
func StartSlot(ref time.Time) int {
	return (ref.Hour()*60 + ref.Minute()) / slots.SlotMinutes
}

// Weekday converts a time to the Monday=0 weekday numbering.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func needSlots(needMin int) int {
	return max(1, (needMin+slots.SlotMinutes-1)/slots.SlotMinutes)
}

func horizonSlots(lookaheadMin int) int {
	return max(1, lookaheadMin/slots.SlotMinutes)
}

// HasFreeWindow reports whether a run of NeedMin free minutes starts within
// the lookahead horizon.
func HasFreeWindow(q Query) bool {
	_, ok := FindFreeWindow(q)
	return ok
}

// FindFreeWindow returns the index where the first qualifying free run
// begins. The index is relative to today's slot 0, so values of SlotsPerDay
// or more fall on tomorrow.
//
// The scan covers today's slots from the reference slot onward followed by
// all of tomorrow, truncated to the lookahead horizon.
func FindFreeWindow(q Query) (int, bool) {
	start := StartSlot(q.Ref)
	need := needSlots(q.NeedMin)
	horizon := horizonSlots(q.LookaheadMin)

	run := 0
	for p := 0; p < horizon; p++ {
		abs := start + p
		if abs >= 2*slots.SlotsPerDay {
			break
		}

		var bit bool
		if abs < slots.SlotsPerDay {
			bit = q.Today[abs]
		} else {
			bit = q.Tomorrow[abs-slots.SlotsPerDay]
		}

		if bit != q.FreeValue {
			run = 0
			continue
		}
		run++
		if run >= need {
			return abs - need + 1, true
		}
	}
	return 0, false
}

// LastClassEnd walks backward from a confirmed free-window start to the most
// recent busy slot and reports when that class ends.
//
// originDay is the weekday of index 0; index may exceed SlotsPerDay to refer
// to following days. The search wraps from Monday back to Sunday and gives up
// after one week, returning 00:00 on the origin's day.
func LastClassEnd(week slots.Week, originDay, index int, freeValue bool) ClockTime {
	const weekSlots = slots.DaysPerWeek * slots.SlotsPerDay

	origin := mod(originDay*slots.SlotsPerDay+index, weekSlots)
	for step := 1; step <= maxBackwardSteps; step++ {
		pos := mod(origin-step, weekSlots)
		day, slot := pos/slots.SlotsPerDay, pos%slots.SlotsPerDay
		if week[day][slot] == freeValue {
			continue
		}

		end := (slot + 1) * slots.SlotMinutes
		if end >= slots.MinutesPerDay {
			return ClockTime{Day: (day + 1) % slots.DaysPerWeek}
		}
		return ClockTime{Day: day, Hour: end / 60, Minute: end % 60}
	}

	return ClockTime{Day: origin / slots.SlotsPerDay}
}

// MealAnchor finds the user's next free window from ref and returns the end
// of the class preceding it. ok is false when no window fits the horizon.
func MealAnchor(week slots.Week, ref time.Time, lookaheadMin, needMin int, freeValue bool) (ClockTime, bool) {
	today := Weekday(ref)
	q := Query{
		Today:        week[today],
		Tomorrow:     week[(today+1)%slots.DaysPerWeek],
		Ref:          ref,
		LookaheadMin: lookaheadMin,
		NeedMin:      needMin,
		FreeValue:    freeValue,
	}

	idx, ok := FindFreeWindow(q)
	if !ok {
		return ClockTime{}, false
	}
	return LastClassEnd(week, today, idx, freeValue), true
}

func mod(a, n int) int {
	r := a % n
	if r < 0 {
		r += n
	}
	return r
}
