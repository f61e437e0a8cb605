package pcmio

// Clock is the published clock state spec.md §4.4 step 6 names:
// "Publish clock.{nsec, rate, position, delay, rate_diff}". Read by
// graph/transport code outside this package to drive downstream timing
// (and, when this loop is itself a slave, fed back in as SlaveRef by
// whichever loop owns the reference clock).
type Clock struct {
	Nsec     int64   // absolute monotonic nanoseconds this clock state was computed at
	Rate     int     // device sample rate, Hz
	Position int64   // total frames processed since start
	Delay    int64   // frames currently in flight (buffered but not yet at the hardware edge)
	RateDiff float64 // smoothed dt, spec.md "cache old_dt = clamp(dt, 0.95, 1.05)"
}

// SlaveRef is the external reference this loop tracks when slaved to
// another clock domain (spec.md §4.2 Slaved playback alignment:
// "master = position.clock.position + position.clock.delay").
type SlaveRef struct {
	ClockPosition int64
	ClockDelay    int64
}

// Master computes the slave reference position in frames.
func (s SlaveRef) Master() int64 { return s.ClockPosition + s.ClockDelay }
