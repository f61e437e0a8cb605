// Package dll implements the second-order digital phase-locked loop used
// to converge the I/O loop's wakeup schedule onto the true sample rate of
// whichever clock it is tracking (device clock, or an external reference
// clock when slaved). See spec.md §4.4.
package dll

import "math"

// Bandwidth bounds, spec.md §3 DLL instance / §4.4: the filter locks in
// fast at BWMax and is decayed to BWMin once the phase error settles.
const (
	BWMax    = 0.25  // Hz, fast lock-in.
	BWMin    = 0.001 // Hz, steady-state tracking.
	BWPeriod = 0.100 // seconds, the settle window used by the decay rule.
)

// DLL is a second-order IIR loop filter with state (base, dt, bw), per
// spec.md §3. Zero value is not usable; construct with New.
type DLL struct {
	bw   float64
	base float64 // smoothed phase estimate, in seconds
	dt   float64 // clamped rate-correction factor, invariant in [0.95,1.05]
	z1   float64 // internal integrator (rate-error accumulator)
	init bool

	// settleBase is the observed phase error captured once, the instant
	// the loop (re)started at BWMax, and held fixed from then on — the
	// stable origin MaybeLowerBandwidth measures elapsed settle time
	// against. It deliberately does not track base, which keeps moving as
	// the filter converges.
	settleBase    float64
	settleBaseSet bool
}

// New constructs a DLL starting at the given bandwidth (callers pass
// BWMax for fast lock-in on (re)start, spec.md §7 xrun recovery).
func New(bw float64) *DLL {
	return &DLL{bw: bw, dt: 1.0}
}

// Reset reinitialises the filter to BWMax with no accumulated state, as
// required on xrun recovery (spec.md §7).
func (d *DLL) Reset() {
	d.bw = BWMax
	d.base = 0
	d.dt = 1.0
	d.z1 = 0
	d.init = false
	d.settleBase = 0
	d.settleBaseSet = false
}

// Bandwidth returns the current loop bandwidth in Hz.
func (d *DLL) Bandwidth() float64 { return d.bw }

// Base returns the filter's current smoothed phase estimate.
func (d *DLL) Base() float64 { return d.base }

// Dt returns the clamped rate-correction factor, always in [0.95, 1.05].
func (d *DLL) Dt() float64 { return d.dt }

// Update feeds one observed phase error (tw, in seconds) sampled over a
// window of the given length (also in seconds) into the filter and
// returns the new smoothed estimate tw' — the `dll_update` contract of
// spec.md §4.4. On the very first call the filter snaps to the observed
// value rather than slewing toward it, so lock-in doesn't start from an
// arbitrary zero.
func (d *DLL) Update(tw, window float64) float64 {
	if !d.init {
		d.base = tw
		d.z1 = 0
		d.init = true
		if !d.settleBaseSet {
			d.settleBase = tw
			d.settleBaseSet = true
		}
		return d.base
	}

	// Classic second order loop filter: natural frequency w set by
	// bandwidth, proportional gain sqrt(2)*w and integral gain w*w, which
	// gives a damping ratio of 1/sqrt(2).
	w := 2 * math.Pi * d.bw
	b := w * math.Sqrt2
	c := w * w

	err := tw - d.base
	d.base += window*d.z1 + b*err*window
	d.z1 += c * err * window

	d.dt = clamp(1.0+d.z1, 0.95, 1.05)
	return d.base
}

// MaybeLowerBandwidth implements spec.md §4.4 step 5: once BWPeriod
// seconds have elapsed since the loop last (re)started at BWMax, decay the
// loop bandwidth toward BWMin so steady-state tracking is smoother (and
// noisier, less reactive) than the lock-in transient. tw is the raw,
// pre-filter observed phase error for this tick (the same value passed
// into Update, not its smoothed return value) — measured against the
// stable settleBase captured at lock-in, never against the continuously
// updated base, so decay isn't tied to whether the filter has converged.
// Returns whether it lowered.
func (d *DLL) MaybeLowerBandwidth(tw float64) bool {
	if d.bw > BWMin && tw > d.settleBase+BWPeriod {
		d.bw = BWMin
		return true
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
