package format

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSanitizeWorkedExample(t *testing.T) {
	// spec.md §8 scenario 3: [FL, FR, FR, UNKNOWN] (4ch) -> [FL, FR, RL, RR].
	got := Sanitize([]Position{FL, FR, FR, Unknown})
	require.Equal(t, []Position{FL, FR, RL, RR}, got)
}

func TestSanitizeAllDuplicatesCollapseToDefault(t *testing.T) {
	got := Sanitize([]Position{FL, FL, FL, FL})
	require.Equal(t, DefaultLayout(4), got)
}

func TestSanitizeIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "n")
		m := make([]Position, n)
		for i := range m {
			m[i] = Position(rapid.IntRange(0, int(SR)+1).Draw(t, "pos"))
		}
		once := Sanitize(m)
		twice := Sanitize(once)
		require.Equal(t, once, twice)
	})
}

func TestSanitizeFromDefaultIsPermutation(t *testing.T) {
	for n := range defaultLayouts {
		def := DefaultLayout(n)
		out := Sanitize(def)
		require.ElementsMatch(t, def, out)
	}
}
