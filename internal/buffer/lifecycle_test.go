package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPoolInvariantAfterStartCycles(t *testing.T) {
	p := NewPool(Capture, 8, 512, 4)
	for i := 0; i < 5; i++ {
		p.Start()
		require.NoError(t, p.CheckInvariant())

		b := p.Free.PopFront()
		require.NotNil(t, b)
		p.CheckOut(b)
		require.NoError(t, p.CheckInvariant())

		p.CheckIn(b)
		p.Ready.PushBack(b)
		require.NoError(t, p.CheckInvariant())
	}
}

func TestComputeSplitNoWrap(t *testing.T) {
	s := ComputeSplit(10, 20, 100)
	require.Equal(t, Split{Offs0: 10, Len0: 20}, s)
}

func TestComputeSplitWraps(t *testing.T) {
	s := ComputeSplit(90, 20, 100)
	require.Equal(t, Split{Offs0: 90, Len0: 10, Offs1: 0, Len1: 10}, s)
}

func TestComputeSplitCoversExactlyFrames(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxSize := rapid.IntRange(1, 4096).Draw(t, "maxSize")
		index := rapid.IntRange(0, maxSize-1).Draw(t, "index")
		frames := rapid.IntRange(0, maxSize).Draw(t, "frames")
		s := ComputeSplit(index, frames, maxSize)
		require.Equal(t, frames, s.Len0+s.Len1)
		require.True(t, s.Offs0+s.Len0 <= maxSize)
		require.True(t, s.Offs1+s.Len1 <= maxSize)
	})
}
