package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/solmeal/internal/slots"
)

func allBusy() slots.Day {
	var d slots.Day
	for i := range d {
		d[i] = true
	}
	return d
}

func at(hour, minute int) time.Time {
	// 2026-10-19 is a Monday.
	return time.Date(2026, 10, 19, hour, minute, 0, 0, time.UTC)
}

func TestHasFreeWindow_AllFree(t *testing.T) {
	q := Query{Ref: at(0, 0), LookaheadMin: 120, NeedMin: 30}
	assert.True(t, HasFreeWindow(q))
}

func TestHasFreeWindow_AllBusy(t *testing.T) {
	q := Query{Today: allBusy(), Tomorrow: allBusy(), Ref: at(0, 0), LookaheadMin: 120, NeedMin: 30}
	assert.False(t, HasFreeWindow(q))
}

func TestHasFreeWindow_PolarityFlip(t *testing.T) {
	// With FreeValue=true an all-true day is all-free.
	q := Query{Today: allBusy(), Tomorrow: allBusy(), Ref: at(12, 0), LookaheadMin: 60, NeedMin: 30, FreeValue: true}
	assert.True(t, HasFreeWindow(q))
}

func TestFindFreeWindow_StartsAfterClass(t *testing.T) {
	var today slots.Day
	slots.MarkBusy(&today, 12*60, 12*60+50) // class until 12:50

	q := Query{Today: today, Ref: at(12, 3), LookaheadMin: 90, NeedMin: 30}
	idx, ok := FindFreeWindow(q)
	assert.True(t, ok)
	assert.Equal(t, (12*60+50)/5, idx)
}

func TestFindFreeWindow_HorizonTooShort(t *testing.T) {
	var today slots.Day
	slots.MarkBusy(&today, 12*60, 13*60)

	q := Query{Today: today, Ref: at(12, 0), LookaheadMin: 80, NeedMin: 30}
	// 60 busy minutes + 30 free needed > 80 minute horizon
	assert.False(t, HasFreeWindow(q))

	q.LookaheadMin = 90
	assert.True(t, HasFreeWindow(q))
}

func TestFindFreeWindow_CrossesMidnight(t *testing.T) {
	today := allBusy()
	var tomorrow slots.Day
	slots.MarkBusy(&tomorrow, 0, 10)

	q := Query{Today: today, Tomorrow: tomorrow, Ref: at(23, 30), LookaheadMin: 90, NeedMin: 30}
	idx, ok := FindFreeWindow(q)
	assert.True(t, ok)
	assert.Equal(t, slots.SlotsPerDay+2, idx)
}

func TestFindFreeWindow_NeedIsCeiled(t *testing.T) {
	var today slots.Day
	// free gap of exactly 5 slots (25 min) between two classes
	slots.MarkBusy(&today, 0, 600)
	slots.MarkBusy(&today, 625, 800)

	q := Query{Today: today, Ref: at(10, 0), LookaheadMin: 120, NeedMin: 25}
	assert.True(t, HasFreeWindow(q))

	// 26 minutes needs 6 slots
	q.NeedMin = 26
	assert.False(t, HasFreeWindow(q))
}

func TestLastClassEnd_SameDay(t *testing.T) {
	var week slots.Week
	slots.MarkBusy(&week[0], 9*60, 10*60+30)

	got := LastClassEnd(week, 0, (10*60+30)/5, false)
	assert.Equal(t, ClockTime{Day: 0, Hour: 10, Minute: 30}, got)
	assert.Equal(t, "10:30:00", got.String())
}

func TestLastClassEnd_WrapsToPreviousDay(t *testing.T) {
	var week slots.Week
	slots.MarkBusy(&week[6], 18*60, 19*60) // Sunday evening class

	got := LastClassEnd(week, 0, 40, false) // Monday 03:20
	assert.Equal(t, ClockTime{Day: 6, Hour: 19, Minute: 0}, got)
}

func TestLastClassEnd_EndOfDayRollsOver(t *testing.T) {
	var week slots.Week
	slots.MarkBusy(&week[1], 23*60, 24*60)

	got := LastClassEnd(week, 2, 12, false)
	assert.Equal(t, ClockTime{Day: 2, Hour: 0, Minute: 0}, got)
}

func TestLastClassEnd_IndexOnTomorrow(t *testing.T) {
	var week slots.Week
	slots.MarkBusy(&week[3], 8*60, 9*60)

	// origin Wednesday(2), index points into Thursday 10:00
	got := LastClassEnd(week, 2, slots.SlotsPerDay+120, false)
	assert.Equal(t, ClockTime{Day: 3, Hour: 9, Minute: 0}, got)
}

func TestLastClassEnd_NoClassFallback(t *testing.T) {
	var week slots.Week
	got := LastClassEnd(week, 4, 100, false)
	assert.Equal(t, ClockTime{Day: 4}, got)

	got = LastClassEnd(week, 4, slots.SlotsPerDay+5, false)
	assert.Equal(t, ClockTime{Day: 5}, got)
}

func TestMealAnchor(t *testing.T) {
	var week slots.Week
	slots.MarkBusy(&week[0], 11*60, 12*60+15)

	anchor, ok := MealAnchor(week, at(11, 30), 90, 30, false)
	assert.True(t, ok)
	assert.Equal(t, ClockTime{Day: 0, Hour: 12, Minute: 15}, anchor)

	week[0] = allBusy()
	week[1] = allBusy()
	_, ok = MealAnchor(week, at(11, 30), 90, 30, false)
	assert.False(t, ok)
}

func TestWeekday(t *testing.T) {
	assert.Equal(t, 0, Weekday(at(0, 0)))
	assert.Equal(t, 6, Weekday(at(0, 0).AddDate(0, 0, 6)))
}
