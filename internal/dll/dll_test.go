package dll

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStartsAtRequestedBandwidthWithUnityDt(t *testing.T) {
	d := New(BWMax)
	assert.Equal(t, BWMax, d.Bandwidth())
	assert.Equal(t, 1.0, d.Dt())
	assert.Equal(t, 0.0, d.Base())
}

func TestUpdateSnapsToFirstObservation(t *testing.T) {
	d := New(BWMax)
	got := d.Update(1.234, 0.01)
	assert.Equal(t, 1.234, got)
	assert.Equal(t, 1.234, d.Base())
}

func TestUpdateConvergesTowardConstantPhaseError(t *testing.T) {
	d := New(BWMax)
	d.Update(0, 0.01)

	const target = 0.005
	early := math.Abs(target - d.Update(target, 0.01))
	for i := 0; i < 2000; i++ {
		d.Update(target, 0.01)
	}
	late := math.Abs(target - d.Update(target, 0.01))

	assert.Less(t, late, early, "tracking error should shrink as the loop settles on a constant input")
}

func TestDtStaysWithinClampedRange(t *testing.T) {
	d := New(BWMax)
	d.Update(0, 0.01)
	for i := 0; i < 1000; i++ {
		d.Update(1000.0, 0.01) // wildly out of range phase error
		require.GreaterOrEqual(t, d.Dt(), 0.95)
		require.LessOrEqual(t, d.Dt(), 1.05)
	}
}

func TestResetReturnsToFastLockIn(t *testing.T) {
	d := New(BWMin)
	d.Update(0, 0.01)
	d.Update(1.0, 0.01)
	d.Reset()
	assert.Equal(t, BWMax, d.Bandwidth())
	assert.Equal(t, 1.0, d.Dt())
	assert.Equal(t, 0.0, d.Base())

	got := d.Update(42.0, 0.01)
	assert.Equal(t, 42.0, got, "post-reset Update must snap to the observed value again")
}

func TestMaybeLowerBandwidthDecaysAfterSettling(t *testing.T) {
	d := New(BWMax)
	d.Update(0, 0.01)

	assert.False(t, d.MaybeLowerBandwidth(0), "must not lower before the settle window elapses")

	lowered := d.MaybeLowerBandwidth(BWPeriod + 0.001)
	assert.True(t, lowered)
	assert.Equal(t, BWMin, d.Bandwidth())

	assert.False(t, d.MaybeLowerBandwidth(1000), "must not lower again once already at BWMin")
}

func TestMaybeLowerBandwidthFiresAsWallClockAdvancesEvenWhileConverging(t *testing.T) {
	// Regression for the integrated-loop bug where MaybeLowerBandwidth was
	// fed the filter's own smoothed return value: since that value snaps
	// to equal its settle origin whenever the input is constant, it could
	// never cross base+BWPeriod. Driving Update with a steadily advancing
	// raw tw (as tickDLL's `tw` does every real tick) must still decay the
	// bandwidth once BWPeriod seconds of wall-clock time have passed, even
	// though the smoothed base lags behind the raw input while converging.
	d := New(BWMax)
	const window = 0.01
	tw := 0.0
	decayed := false
	for i := 0; i < 100; i++ {
		d.Update(tw, window)
		if d.MaybeLowerBandwidth(tw) {
			decayed = true
			break
		}
		tw += window
	}
	assert.True(t, decayed, "bandwidth must decay once real elapsed time exceeds the settle window")
	assert.Equal(t, BWMin, d.Bandwidth())
}

func TestUpdateIsDeterministicForEqualInputs(t *testing.T) {
	a, b := New(BWMax), New(BWMax)
	for i, tw := range []float64{0, 0.001, 0.002, 0.0015, 0.003} {
		window := 0.01
		ga := a.Update(tw, window)
		gb := b.Update(tw, window)
		require.True(t, math.Abs(ga-gb) == 0, "update %d diverged between identically-seeded DLLs", i)
	}
}
