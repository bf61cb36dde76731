// Package anchor snaps cycle start instants to the cycle grid.
//
// A scheduler fires a little early or late; every participant of one cycle
// must still compute against the same reference instant. Snap absorbs that
// jitter with grace windows around each boundary.
package anchor

import "time"

// Defaults match a 10 minute cycle with two minutes of jitter on either side.
const (
	DefaultPeriod      = 10 * time.Minute
	DefaultGraceBefore = 120 * time.Second
	DefaultGraceAfter  = 120 * time.Second
)

// Options configures Snap.
type Options struct {
	// Period is the grid spacing, measured from local midnight.
	Period time.Duration

	// GraceBefore rounds up instants this close before the next boundary.
	GraceBefore time.Duration

	// GraceAfter rounds down instants this close after the floor boundary.
	GraceAfter time.Duration
}

// DefaultOptions returns the 10 minute grid with 120s grace on both sides.
func DefaultOptions() Options {
	return Options{
		Period:      DefaultPeriod,
		GraceBefore: DefaultGraceBefore,
		GraceAfter:  DefaultGraceAfter,
	}
}

// Snap returns the grid boundary t belongs to.
//
// Boundaries are computed on t's wall clock in t's location. An instant
// within GraceBefore of the next boundary rounds up; otherwise one within
// GraceAfter of the floor rounds down; otherwise the nearer boundary wins,
// with exact ties going to the floor.
func Snap(t time.Time, opts Options) time.Time {
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}

	y, m, d := t.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	floor := midnight.Add(t.Sub(midnight).Truncate(opts.Period))
	next := floor.Add(opts.Period)

	untilNext := next.Sub(t)
	sinceFloor := t.Sub(floor)

	switch {
	case untilNext <= opts.GraceBefore:
		return next
	case sinceFloor <= opts.GraceAfter:
		return floor
	case untilNext < sinceFloor:
		return next
	default:
		return floor
	}
}
