package format

// Position names one channel's speaker position. Unknown (zero value)
// marks a slot that still needs to be filled in by sanitisation.
type Position int

const (
	Unknown Position = iota
	FL
	FR
	FC
	LFE
	RL
	RR
	RC
	SL
	SR
)

// defaultLayouts gives the canonical channel ordering for a handful of
// common channel counts, walked in ascending position order when filling
// unknown slots (spec.md §4.1 Channel map sanitisation).
var defaultLayouts = map[int][]Position{
	1: {FC},
	2: {FL, FR},
	3: {FL, FR, LFE},
	4: {FL, FR, RL, RR},
	5: {FL, FR, FC, RL, RR},
	6: {FL, FR, FC, LFE, RL, RR},
	8: {FL, FR, FC, LFE, RL, RR, SL, SR},
}

// DefaultLayout returns the canonical layout for n channels, or nil if
// there isn't one on file (the caller then falls back to a generic range
// choice rather than a per-index chmap, per spec.md §4.1(b)).
func DefaultLayout(n int) []Position {
	l, ok := defaultLayouts[n]
	if !ok {
		return nil
	}
	out := make([]Position, len(l))
	copy(out, l)
	return out
}

// Sanitize implements spec.md §4.1's channel map sanitisation:
//
//  1. clamp any position outside the canonical set to Unknown;
//  2. for every position value that occurs more than once, set every
//     occurrence to Unknown and remember it was "duplicated";
//  3. fill the remaining Unknown slots from DefaultLayout(len(m)), walking
//     the set difference (default \ (seen \ duplicated)) in ascending
//     position order.
//
// Sanitize is idempotent: re-running it on its own output is a no-op,
// because a sanitised map never contains an out-of-range value and never
// repeats a non-Unknown position.
func Sanitize(m []Position) []Position {
	n := len(m)
	out := make([]Position, n)
	copy(out, m)

	valid := func(p Position) bool {
		return p > Unknown && int(p) <= int(SR)
	}
	for i, p := range out {
		if !valid(p) {
			out[i] = Unknown
		}
	}

	count := map[Position]int{}
	for _, p := range out {
		if p != Unknown {
			count[p]++
		}
	}
	duplicated := map[Position]bool{}
	for i, p := range out {
		if p != Unknown && count[p] > 1 {
			duplicated[p] = true
			out[i] = Unknown
		}
	}

	def := DefaultLayout(n)
	if def == nil {
		return out
	}

	seen := map[Position]bool{}
	for _, p := range out {
		if p != Unknown {
			seen[p] = true
		}
	}

	// Walk default positions in the canonical ascending order already
	// guaranteed by DefaultLayout, skipping ones already seen (and not
	// duplicated-away), filling Unknown slots in index order.
	var fill []Position
	for _, p := range allPositionsAscending() {
		if !inLayout(def, p) {
			continue
		}
		if seen[p] && !duplicated[p] {
			continue
		}
		if duplicated[p] {
			// A duplicated position still needs exactly one slot filled
			// back in from the default, same as any other missing one.
			fill = append(fill, p)
			continue
		}
		if !seen[p] {
			fill = append(fill, p)
		}
	}

	fi := 0
	for i, p := range out {
		if p == Unknown && fi < len(fill) {
			out[i] = fill[fi]
			fi++
		}
	}
	return out
}

func inLayout(layout []Position, p Position) bool {
	for _, q := range layout {
		if q == p {
			return true
		}
	}
	return false
}

func allPositionsAscending() []Position {
	return []Position{FL, FR, FC, LFE, RL, RR, RC, SL, SR}
}
